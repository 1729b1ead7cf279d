package asr

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// 传输标签
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// ServeConn 处理一个 TCP 连接，签名与 server.ConnHandler 一致
func (r *Recognizer) ServeConn(ctx context.Context, conn net.Conn) {
	sess := r.NewSession(func(_ context.Context, text string) error {
		return WriteFrame(conn, []byte(text))
	})
	log := r.logger.With(zap.String("session", sess.ID()), zap.String("remote", conn.RemoteAddr().String()))
	r.metrics.ASRSessionOpened(TransportTCP)
	defer r.metrics.ASRSessionClosed(TransportTCP)
	defer sess.Close()

	// ctx 取消时关闭连接以解除阻塞的读
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info("asr session opened")
	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Info("asr session closed")
			} else {
				log.Warn("asr session aborted", zap.Error(err))
			}
			return
		}
		if err := sess.HandlePayload(ctx, payload); err != nil {
			log.Warn("asr session aborted", zap.Error(err))
			return
		}
	}
}

// ServeWebSocket 处理 /api/asr_ws 连接
func (r *Recognizer) ServeWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		r.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(MaxFrameSize)

	ctx := req.Context()
	sess := r.NewSession(func(ctx context.Context, text string) error {
		return conn.Write(ctx, websocket.MessageText, []byte(text))
	})
	log := r.logger.With(zap.String("session", sess.ID()), zap.String("remote", req.RemoteAddr))
	r.metrics.ASRSessionOpened(TransportWebSocket)
	defer r.metrics.ASRSessionClosed(TransportWebSocket)
	defer sess.Close()

	log.Info("asr websocket opened")
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				log.Info("asr websocket closed")
			} else {
				log.Warn("asr websocket aborted", zap.Error(err))
			}
			return
		}
		if typ == websocket.MessageBinary {
			err = sess.Feed(ctx, data)
		} else {
			err = sess.HandlePayload(ctx, data)
		}
		if err != nil {
			log.Warn("asr websocket aborted", zap.Error(err))
			conn.Close(websocket.StatusUnsupportedData, "invalid payload")
			return
		}
	}
}
