package browser

import (
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/PentesterFlow/spiderdive/internal/cdp"
)

// ResponseInfo describes the main document response of a visit.
type ResponseInfo struct {
	RequestID    string
	URL          string
	Status       int
	StatusText   string
	MIMEType     string
	Headers      map[string]string
	EncodedBytes int64
}

type documentResponse struct {
	frameID string
	info    ResponseInfo
}

// ResponseTracker records Document responses and their final sizes.
type ResponseTracker struct {
	mu       sync.Mutex
	docs     []documentResponse
	finished map[string]int64
	unsubs   []func()
}

// TrackResponses subscribes to response events on client.
func TrackResponses(client *cdp.Client) *ResponseTracker {
	t := &ResponseTracker{finished: make(map[string]int64)}

	t.unsubs = append(t.unsubs,
		client.On(cdp.EventResponseReceived, func(ev *cdp.Event) {
			var e proto.NetworkResponseReceived
			if ev.Decode(&e) != nil || e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
				return
			}
			t.recordResponse(string(e.FrameID), string(e.RequestID), e.Response)
		}),
		client.On(cdp.EventLoadingFinished, func(ev *cdp.Event) {
			var e proto.NetworkLoadingFinished
			if ev.Decode(&e) != nil {
				return
			}
			t.mu.Lock()
			t.finished[string(e.RequestID)] = int64(e.EncodedDataLength)
			t.mu.Unlock()
		}),
	)
	return t
}

func (t *ResponseTracker) recordResponse(frameID, requestID string, resp *proto.NetworkResponse) {
	headers := make(map[string]string, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v.Str()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.docs = append(t.docs, documentResponse{
		frameID: frameID,
		info: ResponseInfo{
			RequestID:    requestID,
			URL:          resp.URL,
			Status:       resp.Status,
			StatusText:   resp.StatusText,
			MIMEType:     resp.MIMEType,
			Headers:      headers,
			EncodedBytes: int64(resp.EncodedDataLength),
		},
	})
}

// Document returns the first Document response for frameID, or for any
// frame when frameID is empty. The size prefers the loadingFinished total.
func (t *ResponseTracker) Document(frameID string) *ResponseInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, doc := range t.docs {
		if frameID != "" && doc.frameID != "" && doc.frameID != frameID {
			continue
		}
		info := doc.info
		if n, ok := t.finished[info.RequestID]; ok && n > 0 {
			info.EncodedBytes = n
		}
		return &info
	}
	return nil
}

// Stop unsubscribes from the client.
func (t *ResponseTracker) Stop() {
	for _, unsub := range t.unsubs {
		unsub()
	}
}
