// Package dispatch maps inbound control commands onto the credential store,
// session registry, thread store and transfer coordinator, and renders the
// response text. One Handle call runs per datagram; everything it touches
// is safe under that concurrency.
package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"forumdb/pkg/creds"
	"forumdb/pkg/logger"
	"forumdb/pkg/session"
	"forumdb/pkg/store"
	"forumdb/pkg/telemetry"
	"forumdb/pkg/transfer"
)

// Response strings kept compatible with the original wire protocol.
const (
	respUserLoggedIn    = "USER_LOGGED_IN"
	respUserExists      = "USER_EXISTS"
	respNewUser         = "NEW_USER"
	respLoginSuccess    = "LOGIN_SUCCESS"
	respInvalidPassword = "INVALID_PASSWORD"
	respAccountCreated  = "ACCOUNT_CREATED"
	respAccountFailed   = "ACCOUNT_CREATION_FAILED"
	respThreadExists    = "Thread already exists"
	respThreadMissing   = "Thread does not exist"
	respThreadEmpty     = "Thread is empty"
	respNoThreads       = "No threads to list"
	respMsgDeleted      = "Message deleted"
	respMsgEdited       = "Message edited"
	respMsgNotYours     = "Message not found or not yours"
	respFileExists      = "File already exists in thread"
	respFileMissing     = "File does not exist in thread"
	respThreadRemoved   = "Thread removed"
	respNotCreator      = "Thread not created by you"
	respReady           = "READY"
	respGoodbye         = "Goodbye"
	respInvalidArgs     = "Invalid arguments"
	respServerError     = "Operation failed"
)

// Dispatcher validates and applies control commands.
type Dispatcher struct {
	Creds     *creds.Store
	Sessions  *session.Registry
	Threads   *store.Store
	Transfers *transfer.Coordinator
}

// New wires a dispatcher over its collaborators.
func New(c *creds.Store, r *session.Registry, t *store.Store, x *transfer.Coordinator) *Dispatcher {
	return &Dispatcher{Creds: c, Sessions: r, Threads: t, Transfers: x}
}

// Handle parses one request and returns the response payload. It never
// panics on malformed input; unknown verbs and bad arity answer with a
// generic invalid response.
func (d *Dispatcher) Handle(req, from string) string {
	req = strings.TrimRight(req, "\r\n")
	parts := strings.SplitN(req, " ", 2)
	verb := parts[0]
	args := ""
	if len(parts) > 1 {
		args = parts[1]
	}
	logger.Debug("command_received", "verb", verb, "from", from)

	var resp string
	switch verb {
	case "LOGIN":
		resp = d.login(args)
	case "PWD":
		resp = d.password(args)
	case "NEW":
		resp = d.newAccount(args)
	case "CRT":
		resp = d.createThread(args)
	case "MSG":
		resp = d.postMessage(args)
	case "DLT":
		resp = d.deleteMessage(args)
	case "EDT":
		resp = d.editMessage(args)
	case "LST":
		resp = d.listThreads()
	case "RDT":
		resp = d.readThread(args)
	case "UPD":
		resp = d.announceUpload(args)
	case "DWN":
		resp = d.announceDownload(args)
	case "RMV":
		resp = d.removeThread(args)
	case "XIT":
		resp = d.exit(args)
	default:
		verb = "unknown"
		resp = respInvalidArgs
	}
	telemetry.CommandsTotal.WithLabelValues(verb, outcomeOf(resp)).Inc()
	return resp
}

// outcomeOf buckets a response for metrics.
func outcomeOf(resp string) string {
	switch resp {
	case respInvalidArgs:
		return "invalid"
	case respServerError:
		return "error"
	case respInvalidPassword, respAccountFailed, respThreadExists, respThreadMissing,
		respMsgNotYours, respFileExists, respFileMissing, respNotCreator, respUserLoggedIn:
		return "rejected"
	default:
		return "ok"
	}
}

// safeName rejects identifiers that cannot serve as storage keys: thread
// titles and filenames become file names and index key segments.
func safeName(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") {
		return false
	}
	return !strings.ContainsAny(s, "/\\:\x00")
}

func (d *Dispatcher) login(args string) string {
	username := strings.TrimSpace(args)
	if username == "" {
		return respInvalidArgs
	}
	switch {
	case d.Sessions.Active(username):
		return respUserLoggedIn
	case d.Creds.Exists(username):
		return respUserExists
	default:
		return respNewUser
	}
}

func (d *Dispatcher) password(args string) string {
	f := strings.SplitN(args, " ", 2)
	if len(f) != 2 || f[0] == "" || f[1] == "" {
		return respInvalidArgs
	}
	username, secret := f[0], f[1]
	if !d.Creds.Verify(username, secret) {
		logger.Warn("login_rejected", "user", username)
		return respInvalidPassword
	}
	if !d.Sessions.Activate(username) {
		return respUserLoggedIn
	}
	logger.Info("login_ok", "user", username)
	return respLoginSuccess
}

func (d *Dispatcher) newAccount(args string) string {
	f := strings.SplitN(args, " ", 2)
	if len(f) != 2 || f[0] == "" || f[1] == "" {
		return respInvalidArgs
	}
	username, secret := f[0], f[1]
	if err := d.Creds.Create(username, secret); err != nil {
		if errors.Is(err, creds.ErrUserExists) {
			return respAccountFailed
		}
		return respServerError
	}
	d.Sessions.Activate(username)
	return respAccountCreated
}

func (d *Dispatcher) createThread(args string) string {
	f := strings.SplitN(args, " ", 2)
	if len(f) != 2 || !safeName(f[0]) || f[1] == "" {
		return respInvalidArgs
	}
	title, creator := f[0], f[1]
	switch err := d.Threads.Create(title, creator); {
	case err == nil:
		return fmt.Sprintf("Thread %s created", title)
	case errors.Is(err, store.ErrThreadExists):
		return respThreadExists
	default:
		return respServerError
	}
}

func (d *Dispatcher) postMessage(args string) string {
	f := strings.SplitN(args, " ", 3)
	if len(f) != 3 || f[0] == "" || f[1] == "" || f[2] == "" {
		return respInvalidArgs
	}
	title, author, body := f[0], f[1], f[2]
	switch _, err := d.Threads.AppendMessage(title, author, body); {
	case err == nil:
		return fmt.Sprintf("Message posted to %s thread", title)
	case errors.Is(err, store.ErrThreadMissing):
		return respThreadMissing
	default:
		return respServerError
	}
}

func (d *Dispatcher) deleteMessage(args string) string {
	f := strings.SplitN(args, " ", 3)
	if len(f) != 3 {
		return respInvalidArgs
	}
	title, author := f[0], f[2]
	seq, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil || title == "" || author == "" {
		return respInvalidArgs
	}
	switch err := d.Threads.Tombstone(title, seq, author); {
	case err == nil:
		return respMsgDeleted
	case errors.Is(err, store.ErrThreadMissing):
		return respThreadMissing
	case errors.Is(err, store.ErrMessageNotFound):
		return respMsgNotYours
	default:
		return respServerError
	}
}

func (d *Dispatcher) editMessage(args string) string {
	f := strings.SplitN(args, " ", 4)
	if len(f) != 4 {
		return respInvalidArgs
	}
	title, author, body := f[0], f[2], f[3]
	seq, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil || title == "" || author == "" || body == "" {
		return respInvalidArgs
	}
	switch err := d.Threads.Edit(title, seq, author, body); {
	case err == nil:
		return respMsgEdited
	case errors.Is(err, store.ErrThreadMissing):
		return respThreadMissing
	case errors.Is(err, store.ErrMessageNotFound):
		return respMsgNotYours
	default:
		return respServerError
	}
}

func (d *Dispatcher) listThreads() string {
	titles, err := d.Threads.ListValid()
	if err != nil {
		return respServerError
	}
	if len(titles) == 0 {
		return respNoThreads
	}
	return strings.Join(titles, "\n")
}

func (d *Dispatcher) readThread(args string) string {
	title := strings.TrimSpace(args)
	if title == "" {
		return respInvalidArgs
	}
	lines, err := d.Threads.Render(title)
	switch {
	case errors.Is(err, store.ErrThreadMissing):
		return respThreadMissing
	case err != nil:
		return respServerError
	case len(lines) == 0:
		return respThreadEmpty
	default:
		return strings.Join(lines, "\n")
	}
}

func (d *Dispatcher) announceUpload(args string) string {
	f := strings.SplitN(args, " ", 3)
	if len(f) != 3 || !safeName(f[0]) || !safeName(f[1]) || f[2] == "" {
		return respInvalidArgs
	}
	title, filename, uploader := f[0], f[1], f[2]
	if _, err := d.Threads.GetThread(title); err != nil {
		if errors.Is(err, store.ErrThreadMissing) {
			return respThreadMissing
		}
		return respServerError
	}
	if d.Threads.HasAttachment(title, filename) {
		return respFileExists
	}
	d.Transfers.Announce(transfer.DirUpload, title, filename, uploader)
	return respReady
}

func (d *Dispatcher) announceDownload(args string) string {
	f := strings.SplitN(args, " ", 2)
	if len(f) != 2 || !safeName(f[0]) || !safeName(f[1]) {
		return respInvalidArgs
	}
	title, filename := f[0], f[1]
	if _, err := d.Threads.GetThread(title); err != nil {
		if errors.Is(err, store.ErrThreadMissing) {
			return respThreadMissing
		}
		return respServerError
	}
	if !d.Threads.HasAttachment(title, filename) {
		return respFileMissing
	}
	d.Transfers.Announce(transfer.DirDownload, title, filename, "")
	return respReady
}

func (d *Dispatcher) removeThread(args string) string {
	f := strings.SplitN(args, " ", 2)
	if len(f) != 2 || f[0] == "" || f[1] == "" {
		return respInvalidArgs
	}
	title, requester := f[0], f[1]
	switch err := d.Threads.Remove(title, requester); {
	case err == nil:
		return respThreadRemoved
	case errors.Is(err, store.ErrThreadMissing):
		return respThreadMissing
	case errors.Is(err, store.ErrNotCreator):
		return respNotCreator
	default:
		return respServerError
	}
}

func (d *Dispatcher) exit(args string) string {
	username := strings.TrimSpace(args)
	if username != "" {
		d.Sessions.Deactivate(username)
	}
	return respGoodbye
}
