// Package migrate runs the two client sides of a device migration over the
// relay socket: NewDevice receives the directory key, OldDevice sends it.
// Only ephemeral public keys and one ciphertext under the agreed key cross
// the relay.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/gorilla/websocket"
)

const statusFailed = "failed"

var (
	// ErrRelayRejected is returned when the relay answers with an error frame.
	ErrRelayRejected = errors.New("relay rejected the migration")
	errUnexpected    = errors.New("unexpected relay frame")
)

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type peer struct {
	ws   *websocket.Conn
	done chan struct{}
}

func dial(ctx context.Context, d Dialer, relayURL string) (*peer, error) {
	if d == nil {
		d = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	ws, _, err := d.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransientNetwork, err)
	}
	p := &peer{ws: ws, done: make(chan struct{})}
	// unblock reads when the caller gives up
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-p.done:
		}
	}()
	return p, nil
}

func (p *peer) close() {
	close(p.done)
	_ = p.ws.Close()
}

func (p *peer) send(msg api.Message) error {
	return p.ws.WriteJSON(msg)
}

// expect reads the next frame and requires typ. error and unauthorized
// frames from the relay are turned into errors.
func (p *peer) expect(ctx context.Context, typ api.MessageType) (api.Message, error) {
	var msg api.Message
	if err := p.ws.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return msg, ctx.Err()
		}
		return msg, fmt.Errorf("relay connection: %w", err)
	}
	switch msg.Type {
	case typ:
		return msg, nil
	case api.MsgUnauthorized:
		return msg, common.ErrorUnauthorized
	case api.MsgError:
		return msg, fmt.Errorf("%w: %s", ErrRelayRejected, msg.Msg)
	}
	return msg, fmt.Errorf("%w: got %s, want %s", errUnexpected, msg.Type, typ)
}

// handshake runs the key exchange and the barrier and returns the agreed key.
func (p *peer) handshake(ctx context.Context) ([]byte, error) {
	eph, err := cryptox.NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	if err := p.send(api.Message{Type: api.MsgECDHKey, Key: eph.PublicBytes()}); err != nil {
		return nil, err
	}

	msg, err := p.expect(ctx, api.MsgECDHKey)
	if err != nil {
		return nil, err
	}
	shared, err := eph.SharedKey(msg.Key)
	if err != nil {
		return nil, err
	}

	if err := p.send(api.Message{Type: api.MsgECDHDone}); err != nil {
		common.WipeByteArray(shared)
		return nil, err
	}
	if _, err := p.expect(ctx, api.MsgECDHDone); err != nil {
		common.WipeByteArray(shared)
		return nil, err
	}
	return shared, nil
}

// NewDevice is the side without a directory key.
type NewDevice struct {
	RelayURL string
	Token    string
	Dialer   Dialer
}

// Run asks for a code, hands it to onCode for display, and waits for the
// old device. The received key goes to persist, which stores this device's
// own wrap; its result is reported to the relay. The key is returned only
// when persist succeeded.
func (n *NewDevice) Run(ctx context.Context, onCode func(code string), persist func(ctx context.Context, dirKey []byte) error) ([]byte, error) {
	p, err := dial(ctx, n.Dialer, n.RelayURL)
	if err != nil {
		return nil, err
	}
	defer p.close()

	if err := p.send(api.Message{Type: api.MsgAuth, Token: n.Token}); err != nil {
		return nil, err
	}
	msg, err := p.expect(ctx, api.MsgCode)
	if err != nil {
		return nil, err
	}
	onCode(msg.Code)

	if _, err := p.expect(ctx, api.MsgStart); err != nil {
		return nil, err
	}
	shared, err := p.handshake(ctx)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(shared)

	msg, err = p.expect(ctx, api.MsgData)
	if err != nil {
		return nil, err
	}

	dirKey, openErr := cryptox.Open(shared, msg.Data, msg.IV)
	if openErr == nil && len(dirKey) != common.DirKeySize {
		openErr = common.ErrWrongSecret
	}
	if openErr == nil {
		openErr = persist(ctx, dirKey)
	}

	status := api.StatusOK
	if openErr != nil {
		status = statusFailed
	}
	if err := p.send(api.Message{Type: api.MsgEncData, Data: []byte(status)}); err != nil && openErr == nil {
		openErr = err
	}
	if openErr != nil {
		common.WipeByteArray(dirKey)
		return nil, openErr
	}

	if _, err := p.expect(ctx, api.MsgComplete); err != nil {
		common.WipeByteArray(dirKey)
		return nil, err
	}
	return dirKey, nil
}

// OldDevice holds the directory key and joins with the code shown on the new
// device.
type OldDevice struct {
	RelayURL string
	Token    string
	Dialer   Dialer
}

func (o *OldDevice) Run(ctx context.Context, code string, dirKey []byte) error {
	p, err := dial(ctx, o.Dialer, o.RelayURL)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.send(api.Message{Type: api.MsgAuth, Token: o.Token, Code: code}); err != nil {
		return err
	}
	if _, err := p.expect(ctx, api.MsgStart); err != nil {
		return err
	}

	shared, err := p.handshake(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(shared)

	ct, iv, err := cryptox.Seal(shared, dirKey)
	if err != nil {
		return err
	}
	if err := p.send(api.Message{Type: api.MsgData, Data: ct, IV: iv}); err != nil {
		return err
	}

	_, err = p.expect(ctx, api.MsgComplete)
	return err
}
