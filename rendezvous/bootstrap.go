package rendezvous

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

type (
	// Joined is what Bootstrap learned from the service.
	Joined struct {
		User    uuid.UUID
		Session uuid.UUID
		// Candidates are the endpoints of the other members, in membership
		// order, flattened.
		Candidates []string

		knocks []net.Conn
	}
)

// Bootstrap registers this peer with the service and enters a session. The
// local endpoints are every unicast interface address with listenPort. A nil
// session creates a new one.
//
// Callers should Close the result once the peer is connected, the knock
// sockets are kept open until then.
func Bootstrap(ctx context.Context, c *Client, listenPort int, session uuid.UUID, log *slog.Logger) (*Joined, error) {
	if log == nil {
		log = slog.Default()
	}
	local, err := LocalEndpoints(listenPort)
	if err != nil {
		return nil, err
	}
	user, err := c.CreateUser(ctx, local)
	if err != nil {
		return nil, err
	}
	j := &Joined{User: user.UserID}
	j.knocks = Knock(ctx, user.ConnectToIPs, log)

	if session == uuid.Nil {
		res, err := c.CreateSession(ctx, user.UserID)
		if err != nil {
			j.Close()
			return nil, err
		}
		j.Session = res.SessionID
		log.Info("Created session", "session", j.Session, "user", j.User)
		return j, nil
	}
	res, err := c.JoinSession(ctx, session, user.UserID)
	if err != nil {
		j.Close()
		return nil, err
	}
	j.Session = session
	for _, hosts := range res.RemoteHosts {
		j.Candidates = append(j.Candidates, hosts...)
	}
	log.Info("Joined session", "session", j.Session, "user", j.User, "candidates", len(j.Candidates))
	return j, nil
}

// Knock connects to every endpoint so the service sees the address this host
// reaches it from. Failures are logged and skipped.
func Knock(ctx context.Context, endpoints []string, log *slog.Logger) []net.Conn {
	if log == nil {
		log = slog.Default()
	}
	var out []net.Conn
	d := net.Dialer{Timeout: 5 * time.Second}
	for _, ep := range endpoints {
		conn, err := d.DialContext(ctx, "tcp", WrapHost(ep))
		if err != nil {
			log.Warn("Knock failed", "endpoint", ep, "err", err)
			continue
		}
		out = append(out, conn)
	}
	return out
}

func (j *Joined) Close() error {
	var errs []error
	for _, c := range j.knocks {
		errs = append(errs, c.Close())
	}
	j.knocks = nil
	return errors.Join(errs...)
}
