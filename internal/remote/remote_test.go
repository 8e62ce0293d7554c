package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/msageha/workflowo/internal/task"
)

const (
	testUser     = "deployer"
	testPassword = "hunter2"
)

// testServer is a minimal SSH server: `exec` echoes the command and exits
// with N for `exit N`; the sftp subsystem serves the local filesystem.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey

	mu       sync.Mutex
	commands []string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pw) == testPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{addr: ln.Addr().String(), hostKey: signer.PublicKey()}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, config)
		}
	}()
	return srv
}

func (s *testServer) serveConn(nc net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, chReqs)
	}
}

func (s *testServer) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			fmt.Fprintf(ch, "ran %s\n", payload.Command)
			code := 0
			if n, ok := strings.CutPrefix(payload.Command, "exit "); ok {
				code, _ = strconv.Atoi(n)
			}
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			srv, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = srv.Serve()
			srv.Close()
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) target(password string) task.Target {
	return task.Target{Address: s.addr, Username: testUser, Password: password}
}

func TestDialSSH_RunsCommandsAndReportsExitStatus(t *testing.T) {
	srv := startServer(t)
	stdout := &bytes.Buffer{}
	d := &Dialer{Timeout: 5 * time.Second, Stdout: stdout}

	session, err := d.DialSSH(context.Background(), srv.target(testPassword))
	require.NoError(t, err)
	defer session.Close()

	code, err := session.Run(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = session.Run(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	assert.Equal(t, []string{"uptime", "exit 3"}, srv.ran())
	assert.Equal(t, "ran uptime\nran exit 3\n", stdout.String())
}

func TestDialSSH_WrongPassword(t *testing.T) {
	srv := startServer(t)
	_, err := (&Dialer{Timeout: 5 * time.Second}).DialSSH(context.Background(), srv.target("wrong"))
	assert.ErrorContains(t, err, "ssh handshake")
}

func TestDialSSH_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = (&Dialer{Timeout: time.Second}).DialSSH(context.Background(), task.Target{Address: addr, Username: "u", Password: "p"})
	assert.Error(t, err)
}

func TestDialSSH_KnownHosts(t *testing.T) {
	srv := startServer(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)
	require.NoError(t, os.WriteFile(good, []byte(line+"\n"), 0o600))

	session, err := (&Dialer{Timeout: 5 * time.Second, KnownHostsPath: good}).DialSSH(context.Background(), srv.target(testPassword))
	require.NoError(t, err)
	session.Close()

	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(other)
	require.NoError(t, err)
	bad := filepath.Join(dir, "bad_known_hosts")
	line = knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(bad, []byte(line+"\n"), 0o600))

	_, err = (&Dialer{Timeout: 5 * time.Second, KnownHostsPath: bad}).DialSSH(context.Background(), srv.target(testPassword))
	assert.Error(t, err)

	_, err = (&Dialer{KnownHostsPath: filepath.Join(dir, "absent")}).DialSSH(context.Background(), srv.target(testPassword))
	assert.ErrorContains(t, err, "load known hosts")
}

func TestDialSFTP_Upload(t *testing.T) {
	srv := startServer(t)
	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello"), 0o644))
	remote := filepath.Join(t.TempDir(), "notes.txt")

	conn, err := (&Dialer{Timeout: 5 * time.Second}).DialSFTP(context.Background(), srv.target(testPassword))
	require.NoError(t, err)
	require.NoError(t, conn.Transfer(context.Background(), task.Transfer{LocalPath: local, RemotePath: remote, Recursive: true}))
	conn.Close()

	data, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
