package tonproof

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Bits preceding the public key in standard wallet data cells, keyed by the
// total data size.
var walletKeyOffsets = map[uint]uint{
	288: 32, // v1, v2: seqno
	320: 64, // v3: seqno, subwallet
	321: 64, // v4: seqno, subwallet, plugins
	322: 65, // v5: signature flag, seqno, wallet id, extensions
}

// PublicKeyFromStateInit decodes a base64 StateInit BOC, checks that it
// deploys exactly addr and extracts the wallet public key.
func PublicKeyFromStateInit(stateInitB64 string, addr *address.Address) (ed25519.PublicKey, error) {
	raw, err := decodeBase64(stateInitB64)
	if err != nil {
		return nil, err
	}
	root, err := cell.FromBOC(raw)
	if err != nil {
		return nil, fmt.Errorf("parse state init boc: %w", err)
	}
	if !bytes.Equal(root.Hash(), addr.Data()) {
		return nil, errStateInitMismatch
	}

	var si tlb.StateInit
	if err := tlb.LoadFromCell(&si, root.BeginParse()); err != nil {
		return nil, fmt.Errorf("parse state init: %w", err)
	}
	if si.Data == nil {
		return nil, fmt.Errorf("state init has no data cell")
	}
	return publicKeyFromData(si.Data)
}

func publicKeyFromData(data *cell.Cell) (ed25519.PublicKey, error) {
	skip, ok := walletKeyOffsets[data.BitsSize()]
	if !ok {
		return nil, fmt.Errorf("unsupported wallet data layout (%d bits)", data.BitsSize())
	}
	s := data.BeginParse()
	if _, err := s.LoadSlice(skip); err != nil {
		return nil, err
	}
	key, err := s.LoadSlice(256)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(key), nil
}
