package relay

import (
	"fmt"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

// Role is the side of a pairing a connection plays.
type Role int

const (
	// RoleNew is the device that asked for a code and will receive the key.
	RoleNew Role = iota
	// RoleOld already holds the key and joins with the code.
	RoleOld
)

func (r Role) String() string {
	if r == RoleOld {
		return "old"
	}
	return "new"
}

func (r Role) peer() Role { return 1 - r }

// Stage is the phase of one migration.
type Stage int

const (
	AwaitingPeer Stage = iota
	KeyExchange
	AwaitingBarrier
	Transferring
	Complete
)

func (s Stage) String() string {
	switch s {
	case AwaitingPeer:
		return "awaiting_peer"
	case KeyExchange:
		return "key_exchange"
	case AwaitingBarrier:
		return "awaiting_barrier"
	case Transferring:
		return "transferring"
	default:
		return "complete"
	}
}

// State is the relay's whole view of a migration. It never holds key
// material, only which steps each side has taken.
type State struct {
	Stage    Stage
	KeySent  [2]bool
	Acked    [2]bool
	DataSent bool
}

// Target selects the receivers of an action.
type Target int

const (
	ToPeer Target = iota
	ToBoth
)

// Action is one thing the caller must do after a transition.
type Action struct {
	To  Target
	Msg api.Message
	// Close tears the pairing down after the message is delivered.
	Close bool
}

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrRelayProtocol, fmt.Sprintf(format, args...))
}

// Transition applies msg sent by role to st. It is pure: the caller owns the
// locking and delivers the returned actions in order. Any frame not valid in
// the current stage yields common.ErrRelayProtocol and st unchanged.
func Transition(st State, from Role, msg api.Message) (State, []Action, error) {
	if msg.Type == api.MsgAuth {
		return st, nil, protocolErr("auth after handshake")
	}

	switch st.Stage {
	case AwaitingPeer:
		if from != RoleOld || msg.Type != api.MsgCode {
			return st, nil, protocolErr("%s sent %s before pairing", from, msg.Type)
		}
		st.Stage = KeyExchange
		return st, []Action{{To: ToBoth, Msg: api.Message{Type: api.MsgStart}}}, nil

	case KeyExchange, AwaitingBarrier:
		switch msg.Type {
		case api.MsgECDHKey:
			if st.KeySent[from] {
				return st, nil, protocolErr("%s sent a second key", from)
			}
			if len(msg.Key) == 0 {
				return st, nil, protocolErr("empty key")
			}
			st.KeySent[from] = true
			return st, []Action{{To: ToPeer, Msg: api.Message{Type: api.MsgECDHKey, Key: msg.Key}}}, nil

		case api.MsgECDHDone:
			if !st.KeySent[RoleNew] || !st.KeySent[RoleOld] {
				return st, nil, protocolErr("%s acknowledged before both keys were exchanged", from)
			}
			if st.Acked[from] {
				return st, nil, protocolErr("%s acknowledged twice", from)
			}
			st.Acked[from] = true
			if !st.Acked[from.peer()] {
				st.Stage = AwaitingBarrier
				return st, nil, nil
			}
			st.Stage = Transferring
			return st, []Action{{To: ToBoth, Msg: api.Message{Type: api.MsgECDHDone}}}, nil
		}

	case Transferring:
		switch {
		case msg.Type == api.MsgData && from == RoleOld && !st.DataSent:
			if len(msg.Data) == 0 || len(msg.IV) == 0 {
				return st, nil, protocolErr("empty payload")
			}
			st.DataSent = true
			return st, []Action{{To: ToPeer, Msg: api.Message{Type: api.MsgData, Data: msg.Data, IV: msg.IV}}}, nil

		case msg.Type == api.MsgEncData && from == RoleNew && st.DataSent:
			st.Stage = Complete
			if string(msg.Data) != api.StatusOK {
				return st, []Action{{To: ToBoth, Msg: api.Message{Type: api.MsgError, Msg: "new device could not store the key"}, Close: true}}, nil
			}
			return st, []Action{{To: ToBoth, Msg: api.Message{Type: api.MsgComplete}, Close: true}}, nil
		}
	}

	return st, nil, protocolErr("%s sent %s during %s", from, msg.Type, st.Stage)
}
