// Package download - fetches pretrained weight files over HTTP.
package download

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolo-train/logger"
	"github.com/nvr-ai/go-yolo-train/util"
)

const (
	reqTimeout    = 30 * time.Minute
	maxRetryCount = 3
	retryDelay    = 500 * time.Millisecond
	// sniffLen is the number of leading bytes inspected to reject non-binary payloads.
	sniffLen = 3072
	// progressStep is the number of bytes between two progress log lines.
	progressStep = 32 << 20
)

var (
	// ErrUnexpectedStatus is returned when the server does not answer with a 2xx status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrUnexpectedContent is returned when the payload is a text document such as an
	// HTML error page.
	ErrUnexpectedContent = errors.New("unexpected content type")
)

// Downloader makes a remote file available on the local filesystem.
type Downloader interface {
	// EnsureLocal downloads sourceURL to localName unless localName already exists.
	EnsureLocal(ctx context.Context, localName, sourceURL string) error
}

// Client is a Downloader backed by a retrying HTTP client.
type Client struct {
	*resty.Client
}

var _ Downloader = (*Client)(nil)

// NewClient returns an initialized download client.
func NewClient(ctx context.Context) *Client {
	log, _ := logger.GetZapLogger(ctx)

	r := resty.New().
		SetLogger(log.Sugar()).
		SetTimeout(reqTimeout).
		SetRetryCount(maxRetryCount).
		SetRetryWaitTime(retryDelay).
		AddRetryCondition(retryTransient)

	return &Client{Client: r}
}

// retryTransient retries transport errors, throttling and server-side failures.
// Raw bodies are not parsed by resty, so the body of a response about to be
// discarded is closed here.
func retryTransient(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil || r.RawResponse == nil {
		return false
	}
	status := r.StatusCode()
	retry := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	if retry {
		r.RawBody().Close()
	}
	return retry
}

// EnsureLocal downloads sourceURL to localName unless the file already exists.
//
// The payload is streamed to a temporary file in the destination folder and renamed
// into place once complete, so an interrupted download never leaves a partial file
// under localName.
//
// Arguments:
//   - ctx: The context for the request.
//   - localName: The destination path.
//   - sourceURL: The URL to fetch.
//
// Returns:
//   - error: ErrUnexpectedStatus, ErrUnexpectedContent, or a transport or I/O error.
func (c *Client) EnsureLocal(ctx context.Context, localName, sourceURL string) error {
	if util.Exists(localName) {
		return nil
	}

	log, _ := logger.GetZapLogger(ctx)
	log.Info("downloading", zap.String("url", sourceURL), zap.String("path", localName))

	resp, err := c.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(sourceURL)
	if err != nil {
		return errors.Wrapf(err, "couldn't fetch %s", sourceURL)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return errors.Wrapf(ErrUnexpectedStatus, "%s: %s", sourceURL, resp.Status())
	}

	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "read response")
	}
	if mtype := mimetype.Detect(head); isText(mtype) {
		return errors.Wrapf(ErrUnexpectedContent, "%s served %s", sourceURL, mtype.String())
	}

	dir := filepath.Dir(localName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create destination folder")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(localName)+".*.part")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, &progressReader{r: br, log: log, total: resp.RawResponse.ContentLength})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "download %s", sourceURL)
	}
	if err := os.Rename(tmp.Name(), localName); err != nil {
		return errors.Wrap(err, "move download into place")
	}

	log.Info("downloaded", zap.String("path", localName), zap.Int64("bytes", written))
	return nil
}

// isText reports whether m is a text type or one derived from it.
func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

type progressReader struct {
	r     io.Reader
	log   *zap.Logger
	total int64
	read  int64
	next  int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.read >= p.next {
		p.log.Debug("download progress", zap.Int64("read", p.read), zap.Int64("total", p.total))
		p.next = p.read + progressStep
	}
	return n, err
}
