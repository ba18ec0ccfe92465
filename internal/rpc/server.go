package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"

	"github.com/rs/zerolog"

	"github.com/mailsync/core/internal/syncservice"
)

// SyncHandler adapts syncservice.Service to net/rpc's exported-method
// calling convention, one method per spec.md §6 operation.
type SyncHandler struct {
	svc *syncservice.Service
}

// StartSyncArgs carries an optional email address; an empty string means
// "every known account" per spec.md §6's "email_address?" parameter.
type StartSyncArgs struct {
	EmailAddress string `msgpack:"email_address"`
}

// StartSyncReply carries either a single result or, when EmailAddress was
// omitted, one result per account keyed by email.
type StartSyncReply struct {
	Result  string            `msgpack:"result,omitempty"`
	Results map[string]string `msgpack:"results,omitempty"`
}

func (h *SyncHandler) StartSync(args *StartSyncArgs, reply *StartSyncReply) error {
	if args.EmailAddress == "" {
		results, err := h.svc.StartSyncAll(context.Background())
		if err != nil {
			return err
		}
		reply.Results = results
		return nil
	}
	reply.Result = h.svc.StartSync(context.Background(), args.EmailAddress)
	return nil
}

// StopSyncArgs/StopSyncReply mirror StartSync's shape.
type StopSyncArgs struct {
	EmailAddress string `msgpack:"email_address"`
}

type StopSyncReply struct {
	Result  string            `msgpack:"result,omitempty"`
	Results map[string]string `msgpack:"results,omitempty"`
}

func (h *SyncHandler) StopSync(args *StopSyncArgs, reply *StopSyncReply) error {
	if args.EmailAddress == "" {
		results, err := h.svc.StopSyncAll(context.Background())
		if err != nil {
			return err
		}
		reply.Results = results
		return nil
	}
	reply.Result = h.svc.StopSync(context.Background(), args.EmailAddress)
	return nil
}

// SyncStatusArgs/SyncStatusReply implement spec.md §6's
// `SyncStatus(account_id) -> {folder_name: (state_label, progress)} | null`.
type SyncStatusArgs struct {
	AccountID string `msgpack:"account_id"`
}

type SyncStatusReply struct {
	Folders map[string]syncservice.FolderState `msgpack:"folders"`
}

func (h *SyncHandler) SyncStatus(args *SyncStatusArgs, reply *SyncStatusReply) error {
	reply.Folders = h.svc.SyncStatus(args.AccountID)
	return nil
}

// StatusReply implements `Status() -> {account_id: {folder_name: (state_label, progress)}}`.
type StatusReply struct {
	Accounts map[string]map[string]syncservice.FolderState `msgpack:"accounts"`
}

func (h *SyncHandler) Status(args *struct{}, reply *StatusReply) error {
	reply.Accounts = h.svc.Status()
	return nil
}

// Server listens for msgpack-codec net/rpc connections exposing the
// control-plane operations.
type Server struct {
	inner *rpc.Server
	log   zerolog.Logger
}

// NewServer registers svc's operations under the "Sync" RPC service name.
func NewServer(svc *syncservice.Service, log zerolog.Logger) (*Server, error) {
	inner := rpc.NewServer()
	if err := inner.RegisterName("Sync", &SyncHandler{svc: svc}); err != nil {
		return nil, fmt.Errorf("rpc: register handler: %w", err)
	}
	return &Server{inner: inner, log: log.With().Str("component", "rpc.server").Logger()}, nil
}

// Serve accepts connections on ln until ctx is canceled or Accept fails,
// serving each one on its own goroutine with the msgpack codec.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		go func() {
			defer conn.Close()
			s.inner.ServeCodec(NewServerCodec(conn))
		}()
	}
}
