package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/oshokin/astra-bootstrap/internal/logger"
)

const (
	// StagedFileMode is applied to a staged file before the execute bits are added.
	StagedFileMode os.FileMode = 0o644
	// ExecuteBits grants execute permission to owner and group.
	ExecuteBits os.FileMode = 0o110
	// DirectoryMode is used when the binary directory has to be created.
	DirectoryMode os.FileMode = 0o755

	// DefaultUserAgent is sent with every download request.
	DefaultUserAgent = "astra-bootstrap"
)

var (
	// ErrDownload is returned when a binary cannot be fetched.
	ErrDownload = errors.New("download failed")
	// errBadHTTPStatus is wrapped when the source answers with a non-200 status.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provisioner) {
		if client != nil {
			p.client = client
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(p *Provisioner) {
		if userAgent != "" {
			p.userAgent = userAgent
		}
	}
}

// Provisioner fetches missing engine binaries.
type Provisioner struct {
	// client performs the downloads. It carries no timeout of its own.
	client *http.Client
	// userAgent is sent with every request.
	userAgent string
}

// NewProvisioner creates a Provisioner using http.DefaultClient unless overridden.
func NewProvisioner(opts ...Option) *Provisioner {
	p := &Provisioner{
		client:    http.DefaultClient,
		userAgent: DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Ensure returns the install path of the binary, fetching it first when it is absent.
// A present file is returned as is, without any network access.
func (p *Provisioner) Ensure(ctx context.Context, descriptor Descriptor) (*Installed, error) {
	ctx = logger.WithKV(ctx, "binary", descriptor.Name)

	present, err := Exists(descriptor.InstallPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, descriptor.Name, err)
	}

	if present {
		logger.DebugKV(ctx, "Binary already installed", "path", descriptor.InstallPath)

		return &Installed{Path: descriptor.InstallPath, Origin: OriginPresent}, nil
	}

	logger.InfoKV(ctx, "Fetching binary", "url", descriptor.SourceURL, "path", descriptor.InstallPath)

	if err = p.fetch(ctx, descriptor); err != nil {
		return nil, fmt.Errorf("%w: %s from %s: %w", ErrDownload, descriptor.Name, descriptor.SourceURL, err)
	}

	logger.InfoKV(ctx, "Binary installed", "path", descriptor.InstallPath)

	return &Installed{Path: descriptor.InstallPath, Origin: OriginFetched}, nil
}

// fetch downloads the binary into a staged file next to the install path and
// renames it into place once the transfer has completed.
func (p *Provisioner) fetch(ctx context.Context, descriptor Descriptor) error {
	response, err := p.get(ctx, descriptor.SourceURL)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	return WriteAtomically(descriptor.InstallPath, response.Body)
}

// get performs the GET request and checks the status code.
func (p *Provisioner) get(ctx context.Context, sourceURL string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	request.Header.Set("User-Agent", p.userAgent)

	response, err := p.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
	}

	return response, nil
}

// Fetch downloads sourceURL fully into memory. It is used when the bytes have
// to be validated before they replace an existing file.
func (p *Provisioner) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	response, err := p.get(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, sourceURL, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, sourceURL, err)
	}

	return data, nil
}

// WriteAtomically writes the contents of r to a staged file in the directory
// of path, marks it executable for owner and group, and renames it to path.
// On any failure the staged file is removed and path is left untouched.
func WriteAtomically(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirectoryMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	staged, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create staged file: %w", err)
	}

	stagedPath := staged.Name()
	renamed := false

	defer func() {
		_ = staged.Close()

		if !renamed {
			_ = os.Remove(stagedPath)
		}
	}()

	if _, err = io.Copy(staged, r); err != nil {
		return fmt.Errorf("write staged file: %w", err)
	}

	if err = staged.Chmod(StagedFileMode | ExecuteBits); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err = staged.Sync(); err != nil {
		return fmt.Errorf("sync staged file: %w", err)
	}

	if err = staged.Close(); err != nil {
		return fmt.Errorf("close staged file: %w", err)
	}

	if err = os.Rename(stagedPath, path); err != nil {
		return fmt.Errorf("rename staged file: %w", err)
	}

	renamed = true

	return nil
}

// Exists reports whether something is present at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, err
}
