package relation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/dgo/v200"
	"github.com/dgraph-io/dgo/v200/protos/api"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"server-commission-app/internal/model"
)

const inviterQuery = `
query inviter($name: string) {
	data(func: eq(name, $name), first: 1) {
		n: name
		p: ~invite {
			n: name
		}
	}
}`

// UserResp represent user struct returned by dgraph
type UserResp struct {
	Name     string     `json:"n,omitempty"`
	Inviters []UserResp `json:"p,omitempty"`
}

type queryFunc func(ctx context.Context, q string, vars map[string]string) ([]byte, error)

// DgraphSource reads the invite edges kept in dGraph.
type DgraphSource struct {
	query   queryFunc
	timeout time.Duration
	conn    *grpc.ClientConn
}

// OpenDgraph connecting to dGraph.
func OpenDgraph(rpcAddr string, timeout time.Duration) (*DgraphSource, error) {
	conn, err := grpc.Dial(rpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dial dgraph %s", rpcAddr)
	}
	dg := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	return &DgraphSource{
		conn:    conn,
		timeout: timeout,
		query: func(ctx context.Context, q string, vars map[string]string) ([]byte, error) {
			resp, err := dg.NewReadOnlyTxn().BestEffort().QueryWithVars(ctx, q, vars)
			if err != nil {
				return nil, err
			}
			return resp.Json, nil
		},
	}, nil
}

func (s *DgraphSource) Inviter(ctx context.Context, u *model.User) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	js, err := s.query(ctx, inviterQuery, map[string]string{"$name": u.ID})
	if err != nil {
		return "", errors.Wrap(err, "query inviter")
	}
	return parseInviter(u.ID, js)
}

func (s *DgraphSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func parseInviter(uid string, js []byte) (string, error) {
	type Root struct {
		Users []UserResp `json:"data"`
	}
	var r Root
	if err := json.Unmarshal(js, &r); err != nil {
		return "", errors.Wrap(err, "json unmarshal")
	}
	if len(r.Users) == 0 {
		return "", errors.Errorf("user %s not in relation graph", uid)
	}
	inviters := r.Users[0].Inviters
	switch len(inviters) {
	case 0:
		return "", nil
	case 1:
		return inviters[0].Name, nil
	}
	return "", errors.Errorf("user %s has %d inviters", uid, len(inviters))
}
