package apis

import (
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/common"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// defineRestAPIHandler define the base REST handler from the logging config
func defineRestAPIHandler(
	logTags log.Fields, logging common.HTTPRequestLogging,
) goutils.RestAPIHandler {
	var requestIDHeader *string
	if logging.RequestIDHeader != "" {
		header := logging.RequestIDHeader
		requestIDHeader = &header
	}
	return goutils.RestAPIHandler{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		CallRequestIDHeaderField: requestIDHeader,
		DoNotLogHeaders: func() map[string]bool {
			result := map[string]bool{}
			for _, v := range logging.DoNotLogHeaders {
				result[v] = true
			}
			return result
		}(),
	}
}
