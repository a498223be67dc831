// Package admin implements the allowlist administration commands and the
// line-oriented TCP channel that carries them.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"templaterepo/internal/server/database"
	"templaterepo/internal/server/storage"
)

// Allowlist is the store the console mutates.
type Allowlist interface {
	Create(ctx context.Context, kind database.SourceKind, value, description string) (*database.AllowlistEntry, error)
	Update(ctx context.Context, id int64, value, description string) (*database.AllowlistEntry, error)
	Delete(ctx context.Context, id int64) error
	ListByKind(ctx context.Context, kind database.SourceKind) ([]*database.AllowlistEntry, error)
}

// Reconciler runs an on-demand consistency pass.
type Reconciler interface {
	Reconcile(ctx context.Context) (*storage.Report, error)
}

// ModuleInfo describes the service to admin clients.
type ModuleInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	ServiceURI  string `json:"serviceURI"`
	Description string `json:"description"`
}

// Source is the wire form of an allowlist entry.
type Source struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
	Desc  string `json:"desc"`
}

// SourceList is the getList payload.
type SourceList struct {
	MacList []Source `json:"macList"`
	IPList  []Source `json:"ipList"`
}

// sourceInput is decoded from addSource/updateSource arguments. Pointers
// distinguish absent fields from empty ones.
type sourceInput struct {
	ID    *int64  `json:"id"`
	Value *string `json:"value"`
	Desc  *string `json:"desc"`
}

// Console executes admin command lines. Replies are single lines of the
// form "<verb> <payload>" or "Error:<message>".
type Console struct {
	allowlist  Allowlist
	reconciler Reconciler
	info       ModuleInfo
	logger     *slog.Logger
}

// NewConsole creates a console. reconciler may be nil.
func NewConsole(allowlist Allowlist, reconciler Reconciler, info ModuleInfo, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		allowlist:  allowlist,
		reconciler: reconciler,
		info:       info,
		logger:     logger,
	}
}

// Execute runs one command line and returns the reply.
func (c *Console) Execute(ctx context.Context, line string) string {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return errorReply("empty command")
	}

	switch cmd, args := tokens[0], tokens[1:]; cmd {
	case "getList":
		return c.getList(ctx)
	case "getModuleInfo":
		return reply("moduleInfo", c.info)
	case "addSource":
		if len(args) != 2 {
			return errorReply("usage: addSource <mac|ip> <json>")
		}
		return c.addSource(ctx, args[0], args[1])
	case "updateSource":
		if len(args) != 1 {
			return errorReply("usage: updateSource <json>")
		}
		return c.updateSource(ctx, args[0])
	case "deleteSource":
		if len(args) != 1 {
			return errorReply("usage: deleteSource <id>")
		}
		return c.deleteSource(ctx, args[0])
	case "reconcile":
		return c.reconcile(ctx)
	default:
		return errorReply("unknown command")
	}
}

func (c *Console) getList(ctx context.Context) string {
	list := SourceList{MacList: []Source{}, IPList: []Source{}}
	for _, kind := range []database.SourceKind{database.KindMAC, database.KindIP} {
		entries, err := c.allowlist.ListByKind(ctx, kind)
		if err != nil {
			return c.failure("getList", err)
		}
		for _, e := range entries {
			s := toSource(e)
			if kind == database.KindMAC {
				list.MacList = append(list.MacList, s)
			} else {
				list.IPList = append(list.IPList, s)
			}
		}
	}
	return reply("macipList", list)
}

func (c *Console) addSource(ctx context.Context, kindArg, payload string) string {
	kind := database.SourceKind(kindArg)
	if !kind.Valid() {
		return errorReply(fmt.Sprintf("invalid source kind %q", kindArg))
	}
	in, err := decodeSource(payload)
	if err != nil {
		return errorReply(err.Error())
	}
	if in.Value == nil || strings.TrimSpace(*in.Value) == "" {
		return errorReply("value is required")
	}

	e, err := c.allowlist.Create(ctx, kind, *in.Value, deref(in.Desc))
	if err != nil {
		return c.failure("addSource", err)
	}
	c.logger.Info("allowlist entry added", "id", e.ID, "kind", kind, "value", e.Value)

	verb := "addIpList"
	if kind == database.KindMAC {
		verb = "addMacList"
	}
	return reply(verb, toSource(e))
}

func (c *Console) updateSource(ctx context.Context, payload string) string {
	in, err := decodeSource(payload)
	if err != nil {
		return errorReply(err.Error())
	}
	if in.ID == nil {
		return errorReply("id is required")
	}
	if in.Value == nil || strings.TrimSpace(*in.Value) == "" {
		return errorReply("value is required")
	}

	e, err := c.allowlist.Update(ctx, *in.ID, *in.Value, deref(in.Desc))
	if err != nil {
		return c.failure("updateSource", err)
	}
	c.logger.Info("allowlist entry updated", "id", e.ID, "value", e.Value)
	return reply("updateSource", toSource(e))
}

func (c *Console) deleteSource(ctx context.Context, arg string) string {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return errorReply(fmt.Sprintf("invalid id %q", arg))
	}
	if err := c.allowlist.Delete(ctx, id); err != nil {
		return c.failure("deleteSource", err)
	}
	c.logger.Info("allowlist entry deleted", "id", id)
	return "deleteSource " + strconv.FormatInt(id, 10)
}

func (c *Console) reconcile(ctx context.Context) string {
	if c.reconciler == nil {
		return errorReply("reconciler not configured")
	}
	report, err := c.reconciler.Reconcile(ctx)
	if err != nil {
		return c.failure("reconcile", err)
	}
	return reply("reconcile", report)
}

// failure logs err and renders it for the client.
func (c *Console) failure(op string, err error) string {
	switch {
	case errors.Is(err, database.ErrConflict):
		return errorReply("value already exists")
	case errors.Is(err, database.ErrNotFound):
		return errorReply("source not found")
	}
	c.logger.Error("admin command failed", "op", op, "error", err)
	return errorReply("internal error")
}

func decodeSource(payload string) (*sourceInput, error) {
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %v", err)
	}
	var in sourceInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}
	return &in, nil
}

func toSource(e *database.AllowlistEntry) Source {
	return Source{ID: e.ID, Value: e.Value, Desc: e.Description}
}

func reply(verb string, payload any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return errorReply(err.Error())
	}
	return verb + " " + string(b)
}

func errorReply(msg string) string {
	return "Error:" + msg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
