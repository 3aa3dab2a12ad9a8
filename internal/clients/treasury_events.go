package clients

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TreasuryABI events emitted by the recharge treasury contract
const TreasuryABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "user", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "Deposited",
		"type": "event"
	}
]`

var treasuryABI = mustParseABI(TreasuryABI)

// DepositedTopic topic0 of Deposited(address,uint256)
var DepositedTopic = treasuryABI.Events["Deposited"].ID

// DepositEvent decoded Deposited log
type DepositEvent struct {
	User        common.Address
	Amount      *big.Int
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Removed     bool
}

// IsDepositLog reports whether lg is a Deposited event emitted by treasury
func IsDepositLog(lg types.Log, treasury common.Address) bool {
	return lg.Address == treasury && len(lg.Topics) > 0 && lg.Topics[0] == DepositedTopic
}

// DecodeDepositLog decodes a Deposited log. The beneficiary is the indexed topic.
func DecodeDepositLog(lg types.Log) (*DepositEvent, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != DepositedTopic {
		return nil, fmt.Errorf("log %s:%d is not a Deposited event", lg.TxHash.Hex(), lg.Index)
	}

	values, err := treasuryABI.Unpack("Deposited", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack Deposited data: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected Deposited field count: %d", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected Deposited amount type %T", values[0])
	}

	return &DepositEvent{
		User:        common.BytesToAddress(lg.Topics[1].Bytes()),
		Amount:      amount,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Removed:     lg.Removed,
	}, nil
}

// PackDepositData ABI-encodes the non-indexed Deposited fields
func PackDepositData(amount *big.Int) ([]byte, error) {
	return treasuryABI.Events["Deposited"].Inputs.NonIndexed().Pack(amount)
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}
