package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance("testing", 4, ctxt)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()
	assert.Nil(err)

	// Case 1: no executor map
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	executorMap := map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error {
			return nil
		},
	}

	// Case 2: define a executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct3{}))
	}

	executorMap = map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error { return nil },
		reflect.TypeOf(testStruct3{}): func(p interface{}) error { return fmt.Errorf("Dummy error") },
	}

	// Case 3: change executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}

	// Case 4: append to existing map
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.Nil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}
}

func TestTaskEventLoopSerialExecution(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance("testing", 16, ctxt)
	assert.Nil(err)

	type okTask struct{ idx int }
	type failTask struct{}

	// Track concurrent executions of handler bodies
	active := 0
	maxActive := 0
	order := []int{}
	testWG := sync.WaitGroup{}
	lock := sync.Mutex{}
	executorMap := map[reflect.Type]TaskHandler{
		reflect.TypeOf(okTask{}): func(p interface{}) error {
			defer testWG.Done()
			lock.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			lock.Unlock()
			time.Sleep(time.Millisecond * 5)
			lock.Lock()
			order = append(order, p.(okTask).idx)
			active--
			lock.Unlock()
			return nil
		},
		reflect.TypeOf(failTask{}): func(p interface{}) error {
			return fmt.Errorf("dummy error")
		},
	}
	assert.Nil(uut.SetTaskExecutionMap(executorMap))

	failures := make(chan error, 1)
	uut.OnTaskFailure(func(_ interface{}, err error) {
		failures <- err
	})

	assert.Nil(uut.StartEventLoop(&wg))

	// Case 1: submit from multiple goroutines, handlers never overlap
	{
		testWG.Add(8)
		submitWG := sync.WaitGroup{}
		for itr := 0; itr < 8; itr++ {
			submitWG.Add(1)
			go func(idx int) {
				defer submitWG.Done()
				useCtxt, useCancel := context.WithTimeout(ctxt, time.Second)
				defer useCancel()
				assert.Nil(uut.Submit(useCtxt, okTask{idx: idx}))
			}(itr)
		}
		submitWG.Wait()
		testWG.Wait()
		assert.Equal(1, maxActive)
		assert.Len(order, 8)
	}

	// Case 2: failure is reported to the failure callback
	{
		useCtxt, useCancel := context.WithTimeout(ctxt, time.Second)
		defer useCancel()
		assert.Nil(uut.Submit(useCtxt, failTask{}))
		select {
		case <-useCtxt.Done():
			assert.False(true)
		case err := <-failures:
			assert.EqualError(err, "dummy error")
		}
	}

	// Case 3: submit after stop is rejected
	{
		assert.Nil(uut.StopEventLoop())
		wg.Wait()
		useCtxt, useCancel := context.WithTimeout(ctxt, time.Millisecond*100)
		defer useCancel()
		assert.NotNil(uut.Submit(useCtxt, okTask{}))
	}
}

func TestTaskEventLoopStopWaitsForRunningTask(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: stopping a loop which never started does not block
	{
		uut, err := GetNewTaskProcessorInstance("never-started", 1, ctxt)
		assert.Nil(err)
		assert.Nil(uut.StopEventLoop())
	}

	uut, err := GetNewTaskProcessorInstance("testing", 1, ctxt)
	assert.Nil(err)

	type slowTask struct{}
	started := make(chan bool, 1)
	var finished bool
	lock := sync.Mutex{}
	assert.Nil(uut.SetTaskExecutionMap(map[reflect.Type]TaskHandler{
		reflect.TypeOf(slowTask{}): func(p interface{}) error {
			started <- true
			time.Sleep(time.Millisecond * 200)
			lock.Lock()
			finished = true
			lock.Unlock()
			return nil
		},
	}))
	assert.Nil(uut.StartEventLoop(&wg))

	// Case 1: the loop can only be started once
	{
		assert.NotNil(uut.StartEventLoop(&wg))
	}

	// Case 2: stop returns only after the running task completes
	{
		useCtxt, useCancel := context.WithTimeout(ctxt, time.Second)
		defer useCancel()
		assert.Nil(uut.Submit(useCtxt, slowTask{}))
		select {
		case <-useCtxt.Done():
			assert.False(true)
		case <-started:
		}
		assert.Nil(uut.StopEventLoop())
		lock.Lock()
		assert.True(finished)
		lock.Unlock()
	}

	// Case 3: repeated stop does not block
	{
		assert.Nil(uut.StopEventLoop())
	}
}
