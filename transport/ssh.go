package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// SSHTransport lists and fetches over an SSH connection with password auth
type SSHTransport struct {
	client         *ssh.Client
	commandTimeout time.Duration
}

// DialSSH connects to host:port with the stored credentials
func DialSSH(opts Options) (*SSHTransport, error) {
	conf := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.ConnectTimeout,
	}
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client, err := ssh.Dial("tcp", addr, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	return &SSHTransport{client: client, commandTimeout: opts.CommandTimeout}, nil
}

// run executes one remote command, enforcing the command timeout by closing
// the session. Aborted commands are reported as errors.
func (t *SSHTransport) run(cmd string) ([]byte, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	defer session.Close()
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out, err}
	}()
	timeout := t.commandTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "remote command failed: %s", cmd)
		}
		return r.out, nil
	case <-time.After(timeout):
		session.Close()
		return nil, errors.Errorf("remote command timed out after %v: %s", timeout, cmd)
	}
}

func (t *SSHTransport) List(path string) ([]Entry, error) {
	raw, err := t.run(fmt.Sprintf("ls -lR --time-style=full-iso %s", shellQuote(path)))
	if err != nil {
		return nil, err
	}
	text, err := decodeListing(raw)
	if err != nil {
		return nil, err
	}
	entries, skipped := parseListing(path, text)
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: skipped %d malformed listing lines for %s\n", skipped, path)
	}
	return entries, nil
}

func (t *SSHTransport) Fetch(src string, dst string) error {
	data, err := t.run(fmt.Sprintf("cat %s", shellQuote(src)))
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(dst))
	}
	if err = os.WriteFile(dst, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", dst)
	}
	return nil
}

func (t *SSHTransport) Close() error {
	return t.client.Close()
}

// shellQuote single-quotes a path for the remote shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
