// Package e2e drives a running server through its public REST and websocket api.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"

	"hire-chat/auth"
	"hire-chat/client"
	"hire-chat/domain"
)

type BaseSuite struct {
	suite.Suite
	Config Config
	tokens auth.Tokens
}

// SetupSuite loads the environment and skips when no server is configured.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerURL == "" || s.Config.JwtSecret == "" {
		s.T().Skip("CHAT_ADDR and JWT_SECRET are required")
	}
	s.tokens = auth.NewTokens(s.Config.JwtSecret)
}

// Step prints a header for a scenario step.
func (s *BaseSuite) Step(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

func (s *BaseSuite) Token(userID domain.UserID) string {
	token, err := s.tokens.Generate(userID, nil, time.Hour)
	s.Require().NoError(err)
	return token
}

// SaveThread creates the thread as its employer.
func (s *BaseSuite) SaveThread(ctx context.Context, thread domain.Thread) {
	body, err := json.Marshal(thread)
	s.Require().NoError(err)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.Config.ServerURL+"/api/thread", bytes.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.Token(thread.EmployerID))
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer func() { _ = res.Body.Close() }()
	s.Require().Equal(http.StatusOK, res.StatusCode)
}

// Session connects userID and runs the session until the test ends.
func (s *BaseSuite) Session(userID domain.UserID) *client.Session {
	token := s.Token(userID)
	base := strings.TrimRight(s.Config.ServerURL, "/")
	socket := "ws" + strings.TrimPrefix(base, "http") + "/ws"

	session := client.NewSession(client.Config{SocketURL: socket, Token: token, UserID: userID},
		client.NewHistory(base, token, nil), slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = session.Run(ctx)
	}()
	s.T().Cleanup(func() {
		cancel()
		<-done
	})
	return session
}
