package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rangemarket/core/types"
)

const (
	// TypeNFTQueued is emitted when a seized NFT enters the pending queue.
	TypeNFTQueued = "liquidator.nft_queued"
	// TypeNFTProcessed is emitted when a queued NFT is unwound and sold.
	TypeNFTProcessed = "liquidator.nft_processed"
	// TypeProceedsRemitted is emitted when base proceeds return to a market.
	TypeProceedsRemitted = "liquidator.proceeds_remitted"
)

// NFTQueued captures a seized NFT waiting for deferred disposal.
type NFTQueued struct {
	Vault   common.Address
	TokenID uint64
}

func (NFTQueued) EventType() string { return TypeNFTQueued }

// Event renders the canonical attribute payload.
func (e NFTQueued) Event() *types.Event {
	return &types.Event{
		Type: TypeNFTQueued,
		Attributes: map[string]string{
			"vault":   e.Vault.Hex(),
			"tokenId": strconv.FormatUint(e.TokenID, 10),
		},
	}
}

// NFTProcessed captures the disposal of a queued NFT.
type NFTProcessed struct {
	Vault   common.Address
	TokenID uint64
}

func (NFTProcessed) EventType() string { return TypeNFTProcessed }

// Event renders the canonical attribute payload.
func (e NFTProcessed) Event() *types.Event {
	return &types.Event{
		Type: TypeNFTProcessed,
		Attributes: map[string]string{
			"vault":   e.Vault.Hex(),
			"tokenId": strconv.FormatUint(e.TokenID, 10),
		},
	}
}

// ProceedsRemitted captures base proceeds returned to an originating market.
type ProceedsRemitted struct {
	Market common.Address
	Amount *big.Int
}

func (ProceedsRemitted) EventType() string { return TypeProceedsRemitted }

// Event renders the canonical attribute payload.
func (e ProceedsRemitted) Event() *types.Event {
	return &types.Event{
		Type: TypeProceedsRemitted,
		Attributes: map[string]string{
			"market": e.Market.Hex(),
			"amount": bigString(e.Amount),
		},
	}
}
