package safety

import (
	"context"
	"errors"

	"github.com/eldtechnologies/ephemera/internal/models"
)

var (
	// ErrScanUnavailable wraps every failure of a remote scan: network,
	// timeout, non-2xx status or an unparseable response.
	ErrScanUnavailable = errors.New("remote scan unavailable")
	// ErrAnalysisPending is returned when polling gave up before the
	// provider finished its analysis.
	ErrAnalysisPending = errors.New("analysis not completed")
)

// Scanner is a remote content reputation provider. A nil result with a nil
// error means the provider had nothing to say.
type Scanner interface {
	Name() string
	Enabled() bool
	ScanFile(ctx context.Context, filename string, data []byte) (*models.ScanResult, error)
	CheckURL(ctx context.Context, rawURL string) (*models.ScanResult, error)
}

// NopScanner is used when no provider is configured.
type NopScanner struct{}

func (NopScanner) Name() string  { return "none" }
func (NopScanner) Enabled() bool { return false }

func (NopScanner) ScanFile(context.Context, string, []byte) (*models.ScanResult, error) {
	return nil, nil
}

func (NopScanner) CheckURL(context.Context, string) (*models.ScanResult, error) {
	return nil, nil
}
