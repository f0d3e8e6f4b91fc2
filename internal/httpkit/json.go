package httpkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxJSONBytes bounds decoded API responses.
const maxJSONBytes = 8 << 20

// DoJSON sends req with client and decodes a 2xx JSON body into out.
// Transport failures are wrapped with service; non-2xx responses are
// returned as *StatusError.
func DoJSON(client *http.Client, service string, req *http.Request, out any) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", service, err)
	}
	defer DrainAndClose(resp.Body, 4096)

	if err := CheckResponse(service, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBytes)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
