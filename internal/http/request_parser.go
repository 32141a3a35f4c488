package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"pnvr/internal/core"
)

var errInvalidJobID = errors.New("invalid export job id")

// convenioIDFromPath reads the {id} path segment.
func convenioIDFromPath(r *http.Request) (int, error) {
	return core.ParseConvenioID(r.PathValue("id"))
}

// jobIDFromPath reads the {job} path segment.
func jobIDFromPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("job")), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidJobID
	}
	return id, nil
}
