package events

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// HTTPHandler posts events to a configured URL as a HTTP POST with form
// fields "event_name" and "data" (JSON-encoded), the same contract as the
// original HTTPEventHandler.
type HTTPHandler struct {
	URL    string
	client *http.Client
	log    *logging.Logger
}

// NewHTTPHandler builds a handler posting to url.
func NewHTTPHandler(url string) *HTTPHandler {
	return &HTTPHandler{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logging.GetDefault().Component("events-http"),
	}
}

// Trigger posts the event and logs the outcome. A failed request or a
// non-200 response is both logged here and returned to the caller.
func (h *HTTPHandler) Trigger(name Name, data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}

	form := url.Values{
		"event_name": {string(name)},
		"data":       {string(encoded)},
	}

	resp, err := h.client.PostForm(h.URL, form)
	if err != nil {
		h.log.Error("failed to call HTTP hook", "url", h.URL, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.log.Error("HTTP hook returned non-200", "url", h.URL, "status", resp.StatusCode)
		return httpHookError{h.URL, resp.StatusCode}
	}
	h.log.Info("called HTTP hook", "url", h.URL)
	return nil
}

type httpHookError struct {
	url    string
	status int
}

func (e httpHookError) Error() string {
	return "events: HTTP hook " + e.url + " returned non-200 status"
}

var _ Handler = (*HTTPHandler)(nil)
