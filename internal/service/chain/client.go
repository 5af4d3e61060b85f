// Package chain reads the TON blockchain through a liteserver pool: incoming
// USDT payments to the receiver wallet and wallet public keys.
package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math/big"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"

	"github.com/open-builders/soulpull-backend/internal/service/participation"
	"github.com/open-builders/soulpull-backend/internal/service/tonproof"
)

const defaultScanDepth = 50

// Client implements participation.PaymentChecker and tonproof.PublicKeyResolver.
type Client struct {
	api       ton.APIClientWrapped
	receiver  *address.Address
	master    *address.Address
	scanDepth uint32
	log       zerolog.Logger

	mu           sync.Mutex
	jettonWallet *address.Address
}

var (
	_ participation.PaymentChecker = (*Client)(nil)
	_ tonproof.PublicKeyResolver   = (*Client)(nil)
)

// Dial connects to the liteservers listed in the global config at configURL.
func Dial(ctx context.Context, configURL string) (ton.APIClientWrapped, error) {
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, errors.Wrap(err, "connect to liteservers")
	}
	return ton.NewAPIClient(pool).WithRetry(), nil
}

func NewClient(api ton.APIClientWrapped, receiverWallet, jettonMaster string, scanDepth uint32, log zerolog.Logger) (*Client, error) {
	receiver, err := tonproof.ParseAddress(receiverWallet)
	if err != nil {
		return nil, errors.Wrap(err, "receiver wallet")
	}
	master, err := tonproof.ParseAddress(jettonMaster)
	if err != nil {
		return nil, errors.Wrap(err, "jetton master")
	}
	if scanDepth == 0 {
		scanDepth = defaultScanDepth
	}
	return &Client{
		api:       api,
		receiver:  receiver,
		master:    master,
		scanDepth: scanDepth,
		log:       log.With().Str("component", "chain").Logger(),
	}, nil
}

// receiverJettonWallet resolves the receiver's jetton wallet once.
func (c *Client) receiverJettonWallet(ctx context.Context) (*address.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jettonWallet != nil {
		return c.jettonWallet, nil
	}
	w, err := jetton.NewJettonMasterClient(c.api, c.master).GetJettonWallet(ctx, c.receiver)
	if err != nil {
		return nil, errors.Wrap(err, "resolve receiver jetton wallet")
	}
	c.jettonWallet = w.Address()
	c.log.Info().Str("jetton_wallet", c.jettonWallet.String()).Msg("receiver jetton wallet resolved")
	return c.jettonWallet, nil
}

// FindPayment scans the newest receiver transactions for a jetton transfer
// notification with the given comment.
func (c *Client) FindPayment(ctx context.Context, comment string, minUnits *big.Int) (*participation.Match, error) {
	jw, err := c.receiverJettonWallet(ctx)
	if err != nil {
		return nil, err
	}
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "masterchain info")
	}
	acc, err := c.api.GetAccount(ctx, block, c.receiver)
	if err != nil {
		return nil, errors.Wrap(err, "get receiver account")
	}
	if !acc.IsActive || acc.LastTxLT == 0 {
		return nil, nil
	}
	txs, err := c.api.ListTransactions(ctx, c.receiver, c.scanDepth, acc.LastTxLT, acc.LastTxHash)
	if err != nil {
		return nil, errors.Wrap(err, "list receiver transactions")
	}
	m := matchPayment(txs, jw, comment, minUnits)
	c.log.Debug().
		Str("comment", comment).
		Int("scanned", len(txs)).
		Bool("found", m != nil).
		Msg("payment lookup")
	return m, nil
}

// GetPublicKey runs the wallet's get_public_key method.
func (c *Client) GetPublicKey(ctx context.Context, addr *address.Address) (ed25519.PublicKey, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "masterchain info")
	}
	res, err := c.api.RunGetMethod(ctx, block, addr, "get_public_key")
	if err != nil {
		return nil, errors.Wrap(err, "run get_public_key")
	}
	n, err := res.Int(0)
	if err != nil {
		return nil, errors.Wrap(err, "decode get_public_key")
	}
	if n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("public key out of range")
	}
	return ed25519.PublicKey(n.FillBytes(make([]byte, ed25519.PublicKeySize))), nil
}
