package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var errBodyTooLarge = errors.New("request body too large")

// decodeBody reads at most limit bytes and decodes them into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, limit int64, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return errBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
