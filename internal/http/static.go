package http

import (
	"embed"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
)

//go:embed web
var webFS embed.FS

// registerStatic mounts the web client at "/".
func (s *Server) registerStatic() error {
	if dir := s.config.StaticDir; dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("static dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("static dir %s is not a directory", dir)
		}
		s.echo.Static("/", dir)
		return nil
	}
	s.echo.StaticFS("/", echo.MustSubFS(webFS, "web"))
	return nil
}
