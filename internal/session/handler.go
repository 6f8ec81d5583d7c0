package session

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/skypro1111/sales-intake-service/internal/protocol"
	"github.com/skypro1111/sales-intake-service/internal/store"
)

// BranchStore is the persistence the handler needs.
type BranchStore interface {
	EnsureBranch(branch string) error
	WriteReport(branch string, report []byte) (*store.Receipt, error)
}

// Config contains session handler configuration
type Config struct {
	// FrameSize is the single-read receive buffer for each frame.
	FrameSize int
	// Timeout bounds a whole session. Zero means no deadline.
	Timeout time.Duration
}

// Handler runs the report protocol on accepted connections
type Handler struct {
	config  Config
	store   BranchStore
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a session handler
func NewHandler(cfg Config, st BranchStore, mgr *Manager, logger *slog.Logger) *Handler {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = protocol.DefaultFrameSize
	}

	return &Handler{
		config:  cfg,
		store:   st,
		manager: mgr,
		logger:  logger,
	}
}

// Serve runs one session to completion and closes conn. The returned
// error is nil when the client received both acknowledgements, and an
// *AbortError otherwise. Failures are logged here.
func (h *Handler) Serve(conn net.Conn) error {
	defer conn.Close()

	session := h.manager.Open(conn.RemoteAddr().String())
	logger := h.logger.With(
		slog.String("session_id", session.ID),
		slog.String("remote_addr", session.RemoteAddr),
	)

	logger.Info("New client connected")

	if h.config.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(h.config.Timeout)); err != nil {
			logger.Warn("Failed to set session deadline", slog.String("error", err.Error()))
		}
	}

	err := h.run(conn, session, logger)
	h.manager.Close(session, err)

	if err != nil {
		h.logAbort(logger, session, err)
		return err
	}

	receipt := session.Receipt()
	logger.Info("Report stored",
		slog.String("branch", session.Branch()),
		slog.String("path", receipt.Path),
		slog.Int64("size", receipt.Size),
		slog.String("digest", receipt.Digest),
		slog.Duration("duration", time.Since(session.StartTime)),
	)

	return nil
}

// run executes the protocol stages in order.
func (h *Handler) run(conn net.Conn, session *Session, logger *slog.Logger) error {
	buf := make([]byte, h.config.FrameSize)

	// Identification frame
	session.setStage(StageAwaitIdent)
	frame, err := protocol.ReadFrame(conn, buf)
	if err != nil {
		return abort(StageAwaitIdent, err)
	}

	text := protocol.DecodeText(frame)
	logger.Debug("Received identification frame",
		slog.Int("size", len(frame)),
		slog.String("frame", text),
	)

	session.setStage(StageParseIdent)
	branch, err := protocol.ParseIdentification(text)
	if err != nil {
		return abort(StageParseIdent, err)
	}
	if err := protocol.ValidateBranchCode(branch); err != nil {
		return abort(StageParseIdent, err)
	}

	session.setBranch(branch)
	logger.Info("Received branch code", slog.String("branch", branch))

	session.setStage(StageEnsureBranch)
	if err := h.store.EnsureBranch(branch); err != nil {
		return abort(StageEnsureBranch, err)
	}

	session.setStage(StageAckIdent)
	if err := protocol.WriteAck(conn); err != nil {
		return abort(StageAckIdent, err)
	}
	logger.Debug("Sent OK to client")

	// Payload frame
	session.setStage(StageAwaitPayload)
	frame, err = protocol.ReadFrame(conn, buf)
	if err != nil {
		return abort(StageAwaitPayload, err)
	}

	session.setStage(StageDecodePayload)
	payload := protocol.ExtractPayload(protocol.DecodeText(frame))
	logger.Debug("Received encoded data", slog.Int("size", len(payload)))

	report, err := protocol.DecodeReport(payload)
	if err != nil {
		return abort(StageDecodePayload, err)
	}

	session.setStage(StageWriteReport)
	receipt, err := h.store.WriteReport(branch, report)
	if err != nil {
		return abort(StageWriteReport, err)
	}
	session.setReceipt(receipt)

	session.setStage(StageAckDone)
	if err := protocol.WriteAck(conn); err != nil {
		return abort(StageAckDone, err)
	}
	logger.Debug("Sent final OK to client")

	session.setStage(StageDone)
	return nil
}

func (h *Handler) logAbort(logger *slog.Logger, session *Session, err error) {
	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		logger.Error("Session failed", slog.String("error", err.Error()))
		return
	}

	attrs := []any{
		slog.String("stage", string(abortErr.Stage)),
		slog.String("error", abortErr.Err.Error()),
	}
	if branch := session.Branch(); branch != "" {
		attrs = append(attrs, slog.String("branch", branch))
	}

	switch {
	case abortErr.Stage == StageParseIdent:
		logger.Warn("Failed to parse branch code", attrs...)
	case errors.Is(abortErr.Err, net.ErrClosed), isTimeout(abortErr.Err):
		logger.Warn("Session interrupted", attrs...)
	default:
		logger.Error("Error handling client", attrs...)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
