package platform

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
)

const maxResponseBytes = 4 << 20

// doJSON sends req, classifies transport failures, and hands non-2xx bodies to
// onError. A 2xx body is decoded into out when out is non-nil.
func doJSON(client *http.Client, p models.Platform, req *http.Request, out any, onError func(status int, body []byte) error) error {
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(p, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(p, err)
	}

	if resp.StatusCode >= 400 {
		return onError(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return apperr.UpstreamUnavailable(fmt.Sprintf("%s: unexpected response", p), err).WithPlatform(string(p))
		}
	}
	return nil
}

// progressReader counts bytes read from an upload body and reports them without
// ever blocking the transfer.
type progressReader struct {
	r        io.Reader
	total    int64
	sent     atomic.Int64
	progress chan<- UploadProgress
}

func newProgressReader(r io.Reader, total int64, progress chan<- UploadProgress) *progressReader {
	return &progressReader{r: r, total: total, progress: progress}
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.report(pr.sent.Add(int64(n)))
	}
	return n, err
}

func (pr *progressReader) report(sent int64) {
	notifyProgress(pr.progress, UploadProgress{BytesSent: sent, TotalBytes: pr.total})
}

func notifyProgress(ch chan<- UploadProgress, p UploadProgress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}
