package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"papertrade/pkg/utils"
)

// Recovery перехватывает panic в handler, логирует stack trace
// и отвечает 500, не роняя сервер
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("handler panic",
						utils.String("panic", fmt.Sprint(err)),
						utils.String("path", r.URL.Path),
						utils.String("stack", string(debug.Stack())))

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error","code":"INTERNAL_ERROR"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
