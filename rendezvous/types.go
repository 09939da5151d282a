// Package rendezvous is the HTTP registry peers use to find each other before
// a direct connection exists.
package rendezvous

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	CreateUserRequest struct {
		LocalIPs []string `json:"localIps"`
	}

	CreateUserResponse struct {
		UserID       uuid.UUID `json:"userId"`
		ConnectToIPs []string  `json:"connectToIps"`
	}

	CreateSessionRequest struct {
		User uuid.UUID `json:"user"`
	}

	CreateSessionResponse struct {
		SessionID uuid.UUID `json:"sessionId"`
	}

	JoinSessionRequest struct {
		User uuid.UUID `json:"user"`
	}

	JoinSessionResponse struct {
		RemoteHosts [][]string `json:"remoteHosts"`
	}

	SessionInfo struct {
		ID      uuid.UUID   `json:"id"`
		Members []uuid.UUID `json:"members"`
	}

	UserInfo struct {
		ID        uuid.UUID `json:"id"`
		Addresses []string  `json:"addresses"`
		Listeners []string  `json:"listeners"`
	}

	errorBody struct {
		Error string `json:"error"`
	}

	// StatusError is returned by the Client for non 2xx answers.
	StatusError struct {
		Code    int
		Message string
	}
)

func (s *StatusError) Error() string {
	return fmt.Sprintf("rendezvous: unexpected status %v: %v", s.Code, s.Message)
}
