package helper

import (
	"net/http"

	types "github.com/warunk-dev/resto-core/types/http"
)

func SetError(w http.ResponseWriter, body types.Error, code int) {
	errMessage := types.SerializeError(&types.CommonError{
		Errors: []types.Error{body},
	})
	w.WriteHeader(code)
	w.Write(errMessage)
}

// GetConsumerID extracts the caller identity placed on the request by the
// auth collaborator (gateway middleware). This module trusts the header.
func GetConsumerID(header http.Header) (string, *types.Error) {
	consumerID := header.Get("X-Consumer-ID")
	if consumerID == "" {
		err := types.Error{HTTPCode: http.StatusBadRequest, Message: "Please specify 'X-Consumer-ID' in header", Code: "EMPTY_CONSUMER_ID"}
		return "", &err
	}

	return consumerID, nil
}
