package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ERC721ABI the ownerOf view used for ownership checks
const ERC721ABI = `[
	{
		"inputs": [{"internalType": "uint256", "name": "tokenId", "type": "uint256"}],
		"name": "ownerOf",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var erc721ABI = mustParseABI(ERC721ABI)

// ErrUnknownScope no ownership contract configured for the scope
var ErrUnknownScope = errors.New("unknown ownership scope")

// OwnershipOracle answers "does wallet own token under the contract family scope"
type OwnershipOracle interface {
	HasScope(scope string) bool
	IsOwner(ctx context.Context, scope, tokenID, wallet string) (bool, error)
}

// ERC721OwnershipOracle resolves scopes to ERC721 contracts and calls ownerOf
type ERC721OwnershipOracle struct {
	reader    ChainReader
	contracts map[string]common.Address
}

// NewERC721OwnershipOracle builds an oracle from scope -> contract address pairs
func NewERC721OwnershipOracle(reader ChainReader, contracts map[string]string) (*ERC721OwnershipOracle, error) {
	resolved := make(map[string]common.Address, len(contracts))
	for scope, address := range contracts {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid ownership contract for scope %s: %s", scope, address)
		}
		resolved[scope] = common.HexToAddress(address)
	}
	return &ERC721OwnershipOracle{reader: reader, contracts: resolved}, nil
}

func (o *ERC721OwnershipOracle) HasScope(scope string) bool {
	_, ok := o.contracts[scope]
	return ok
}

// IsOwner returns false without error when the token does not exist
func (o *ERC721OwnershipOracle) IsOwner(ctx context.Context, scope, tokenID, wallet string) (bool, error) {
	contract, ok := o.contracts[scope]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	id, err := ParseTokenID(tokenID)
	if err != nil {
		return false, err
	}

	input, err := erc721ABI.Pack("ownerOf", id)
	if err != nil {
		return false, fmt.Errorf("failed to pack ownerOf: %w", err)
	}

	output, err := o.reader.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		// ownerOf reverts for burned or never-minted tokens
		if strings.Contains(err.Error(), "execution reverted") {
			logrus.WithFields(logrus.Fields{
				"scope":    scope,
				"token_id": tokenID,
			}).Debug("ownerOf reverted, treating as not owned")
			return false, nil
		}
		return false, fmt.Errorf("ownerOf call failed: %w", err)
	}

	values, err := erc721ABI.Unpack("ownerOf", output)
	if err != nil {
		return false, fmt.Errorf("failed to unpack ownerOf: %w", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected ownerOf output count: %d", len(values))
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return false, fmt.Errorf("unexpected ownerOf output type %T", values[0])
	}

	return strings.EqualFold(owner.Hex(), wallet), nil
}

// ParseTokenID accepts decimal or 0x-prefixed hex token ids
func ParseTokenID(tokenID string) (*big.Int, error) {
	tokenID = strings.TrimSpace(tokenID)
	base := 10
	if strings.HasPrefix(tokenID, "0x") || strings.HasPrefix(tokenID, "0X") {
		tokenID = tokenID[2:]
		base = 16
	}
	id, ok := new(big.Int).SetString(tokenID, base)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	return id, nil
}

// PackOwnerOfResult ABI-encodes an ownerOf return value
func PackOwnerOfResult(owner common.Address) ([]byte, error) {
	return erc721ABI.Methods["ownerOf"].Outputs.Pack(owner)
}
