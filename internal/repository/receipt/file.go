package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/astra-bootstrap/internal/config"
)

// Repository defines persistence operations for the provisioning receipt.
type Repository interface {
	Load(ctx context.Context) (*Receipt, error)
	Save(ctx context.Context, receipt *Receipt) error
}

// FileRepository persists the receipt to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the receipt file.
	path string
	// mu protects concurrent access to the receipt file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when no receipt has been written yet.
	ErrNotFound = errors.New("receipt not found")

	errReceiptIsNotSet = errors.New("receipt is not set")
)

// Field names of the JSON document.
const (
	fieldRunID     = "run_id"
	fieldCreatedAt = "created_at"
	fieldHost      = "host"
	fieldHostname  = "hostname"
	fieldUsername  = "username"
	fieldPlatform  = "platform"
	fieldArch      = "arch"
	fieldPort      = "port"
	fieldBinaries  = "binaries"
	fieldName      = "name"
	fieldPath      = "path"
	fieldOrigin    = "origin"
	fieldAlgorithm = "algorithm"
	fieldDigest    = "digest"
	fieldCLIPath   = "cli_path"
	fieldConflicts = "conflicts"
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the receipt file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the receipt from disk.
func (r *FileRepository) Load(_ context.Context) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read receipt file: %w", err)
	}

	var message structpb.Struct
	if err = protojson.Unmarshal(contents, &message); err != nil {
		return nil, fmt.Errorf("decode receipt file: %w", err)
	}

	return fromProto(&message)
}

// Save writes the receipt to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, receipt *Receipt) error {
	if receipt == nil {
		return errReceiptIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	message, err := toProto(receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	if err = writeFile(r.path, data); err != nil {
		return fmt.Errorf("write receipt file: %w", err)
	}

	return nil
}

// writeFile stages data next to path and renames it into place, so a reader
// sees either the previous receipt or the new one.
func writeFile(path string, data []byte) error {
	staged, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}

	stagedPath := staged.Name()
	renamed := false

	defer func() {
		_ = staged.Close()

		if !renamed {
			_ = os.Remove(stagedPath)
		}
	}()

	if _, err = staged.Write(data); err != nil {
		return err
	}

	if err = staged.Chmod(config.DefaultFilePermissions); err != nil {
		return err
	}

	if err = staged.Sync(); err != nil {
		return err
	}

	if err = staged.Close(); err != nil {
		return err
	}

	if err = os.Rename(stagedPath, path); err != nil {
		return err
	}

	renamed = true

	return nil
}

// toProto converts the Receipt into a protobuf Struct.
func toProto(receipt *Receipt) (*structpb.Struct, error) {
	binaries := make([]any, 0, len(receipt.Binaries))
	for _, b := range receipt.Binaries {
		binaries = append(binaries, map[string]any{
			fieldName:      b.Name,
			fieldPath:      b.Path,
			fieldOrigin:    b.Origin,
			fieldAlgorithm: b.Algorithm,
			fieldDigest:    b.Digest,
		})
	}

	conflicts := make([]any, 0, len(receipt.Conflicts))
	for _, key := range receipt.Conflicts {
		conflicts = append(conflicts, key)
	}

	var createdAt string
	if !receipt.CreatedAt.IsZero() {
		createdAt = receipt.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	return structpb.NewStruct(map[string]any{
		fieldRunID:     receipt.RunID,
		fieldCreatedAt: createdAt,
		fieldHost: map[string]any{
			fieldHostname: receipt.Host.Hostname,
			fieldUsername: receipt.Host.Username,
			fieldPlatform: receipt.Host.Platform,
			fieldArch:     receipt.Host.Arch,
		},
		fieldPort:      receipt.Port,
		fieldBinaries:  binaries,
		fieldCLIPath:   receipt.CLIPath,
		fieldConflicts: conflicts,
	})
}

// fromProto converts a protobuf Struct into the Receipt model.
func fromProto(message *structpb.Struct) (*Receipt, error) {
	fields := message.GetFields()

	receipt := &Receipt{
		RunID:   fields[fieldRunID].GetStringValue(),
		Port:    int(fields[fieldPort].GetNumberValue()),
		CLIPath: fields[fieldCLIPath].GetStringValue(),
	}

	if raw := fields[fieldCreatedAt].GetStringValue(); raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
		}

		receipt.CreatedAt = createdAt
	}

	host := fields[fieldHost].GetStructValue().GetFields()
	receipt.Host = Host{
		Hostname: host[fieldHostname].GetStringValue(),
		Username: host[fieldUsername].GetStringValue(),
		Platform: host[fieldPlatform].GetStringValue(),
		Arch:     host[fieldArch].GetStringValue(),
	}

	for _, value := range fields[fieldBinaries].GetListValue().GetValues() {
		b := value.GetStructValue().GetFields()
		receipt.Binaries = append(receipt.Binaries, Binary{
			Name:      b[fieldName].GetStringValue(),
			Path:      b[fieldPath].GetStringValue(),
			Origin:    b[fieldOrigin].GetStringValue(),
			Algorithm: b[fieldAlgorithm].GetStringValue(),
			Digest:    b[fieldDigest].GetStringValue(),
		})
	}

	for _, value := range fields[fieldConflicts].GetListValue().GetValues() {
		receipt.Conflicts = append(receipt.Conflicts, value.GetStringValue())
	}

	return receipt, nil
}
