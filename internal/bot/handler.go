package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"moltby/internal/transport"
	logx "moltby/pkg/logx"
)

type HandlerFunc func(ctx context.Context, up transport.Update) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, up transport.Update) error {
			if d <= 0 {
				return next(ctx, up)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, up)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, up transport.Update) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("update handler panicked",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, up)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, up transport.Update) error {
			start := time.Now()
			err := next(ctx, up)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(up.Kind)),
				logx.Duration("dur", d),
			}
			if msg := up.Message; msg != nil {
				fields = append(fields,
					logx.Int64("chat_id", msg.ChatID),
					logx.Int64("from_id", msg.FromID),
				)
			}
			if err != nil {
				log.Warn("update failed", append(fields, logx.Err(err))...)
				return err
			}
			log.Debug("update handled", fields...)
			return nil
		}
	}
}

// MenuCommands is the command menu published on start.
func MenuCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "Say hello to the agent"},
	}
}

// handleUpdate records the conversation and answers /start.
func (m *Manager) handleUpdate(conn Conn) HandlerFunc {
	botName := conn.Identity().Username
	return func(ctx context.Context, up transport.Update) error {
		msg := up.Message
		if up.Kind != transport.UpdateMessage || msg == nil {
			return nil
		}
		m.sessions.Touch(msg)

		if command(msg.Text, botName) != "start" {
			return nil
		}
		to := transport.ChatTarget{ID: fmt.Sprint(msg.ChatID), ThreadID: msg.ThreadID}
		if _, err := conn.SendText(ctx, to, GreetingText, nil); err != nil {
			return fmt.Errorf("reply /start: %w", err)
		}
		return nil
	}
}

// command extracts "start" from "/start", "/start@bot" or "/start args".
// Commands addressed to another bot are ignored.
func command(text, botName string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	head, _, _ := strings.Cut(text[1:], " ")
	name, at, addressed := strings.Cut(head, "@")
	if addressed && botName != "" && !strings.EqualFold(at, botName) {
		return ""
	}
	return strings.ToLower(name)
}
