package chain

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/open-builders/soulpull-backend/internal/service/participation"
)

// OpTransferNotification is sent by a jetton wallet to its owner on receipt.
const OpTransferNotification = 0x7362d09c

var errNotNotification = errors.New("not a transfer notification")

// Notification is a decoded transfer_notification body.
type Notification struct {
	QueryID uint64
	Amount  *big.Int
	Sender  *address.Address
	Comment string
}

// ParseNotification decodes
//
//	transfer_notification#7362d09c query_id:uint64 amount:(VarUInteger 16)
//	  sender:MsgAddress forward_payload:(Either Cell ^Cell)
//
// The comment is set only when the forward payload is a text comment (op 0).
func ParseNotification(body *cell.Cell) (*Notification, error) {
	if body == nil {
		return nil, errNotNotification
	}
	s := body.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil || op != OpTransferNotification {
		return nil, errNotNotification
	}
	n := &Notification{}
	if n.QueryID, err = s.LoadUInt(64); err != nil {
		return nil, err
	}
	if n.Amount, err = s.LoadBigCoins(); err != nil {
		return nil, err
	}
	if n.Sender, err = s.LoadAddr(); err != nil {
		return nil, err
	}

	if s.BitsLeft() == 0 {
		return n, nil
	}
	inRef, err := s.LoadBoolBit()
	if err != nil {
		return nil, err
	}
	payload := s
	if inRef {
		if payload, err = s.LoadRef(); err != nil {
			return nil, err
		}
	}
	n.Comment = textComment(payload)
	return n, nil
}

func textComment(s *cell.Slice) string {
	if s == nil || s.BitsLeft() < 32 {
		return ""
	}
	op, err := s.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}
	text, err := s.LoadStringSnake()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// matchPayment returns the first transaction in txs that received a
// notification from jettonWallet carrying comment and at least minUnits.
func matchPayment(txs []*tlb.Transaction, jettonWallet *address.Address, comment string, minUnits *big.Int) *participation.Match {
	for _, tx := range txs {
		if tx == nil || tx.IO.In == nil || tx.IO.In.MsgType != tlb.MsgTypeInternal {
			continue
		}
		in := tx.IO.In.AsInternal()
		if in == nil || in.SrcAddr == nil || !in.SrcAddr.Equals(jettonWallet) {
			continue
		}
		n, err := ParseNotification(in.Body)
		if err != nil || n.Comment != comment {
			continue
		}
		if minUnits != nil && n.Amount.Cmp(minUnits) < 0 {
			continue
		}
		m := &participation.Match{
			TxHash: hex.EncodeToString(tx.Hash),
			Units:  n.Amount,
			At:     time.Unix(int64(tx.Now), 0).UTC(),
		}
		if n.Sender != nil {
			m.Sender = n.Sender.String()
		}
		return m
	}
	return nil
}
