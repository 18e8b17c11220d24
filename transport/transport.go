package transport

import (
	"time"
)

// Entry - one file observed in a listing. Name is the path relative to the
// listed directory, using forward slashes.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Transport lists and fetches artifacts on one host. Callers cannot tell the
// local and SSH implementations apart.
type Transport interface {
	// List walks path recursively and returns every regular file below it
	List(path string) ([]Entry, error)
	// Fetch copies a single remote file to a local path
	Fetch(src string, dst string) error
	Close() error
}

// Options - dial and command limits for the remote transport
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// New returns the SSH transport when credentials are present, the local
// filesystem transport otherwise.
func New(opts Options) (Transport, error) {
	if opts.Username == "" && opts.Password == "" {
		return &LocalTransport{}, nil
	}
	return DialSSH(opts)
}
