// Package sl: помощники для структурированных полей slog.
package sl

import (
	"io"
	"log/slog"
	"os"
)

// Окружения из config.Env.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// SetupLogger создаёт логгер под окружение: в prod JSON с уровнем info,
// иначе текст с уровнем debug.
func SetupLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	if env == EnvProd {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Err возвращает атрибут "error" с текстом ошибки.
//
//	log.Error("failed to apply patch", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// User возвращает атрибут с идентификатором пользователя.
func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

// Provider возвращает атрибут с именем платёжного провайдера.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}
