package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/saltdig/engine/pkg/models"
)

// USDC uses six decimals on every supported chain.
const usdcDecimals = 6

// rpcTimeout bounds each on-chain call, reads and writes alike.
const rpcTimeout = 30 * time.Second

const escrowABIJSON = `[
	{"type":"function","name":"computeHash","stateMutability":"pure","inputs":[{"name":"bountyId","type":"string"}],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"createBounty","stateMutability":"nonpayable","inputs":[{"name":"bountyId","type":"string"},{"name":"amount","type":"uint256"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimBounty","stateMutability":"nonpayable","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"submitBounty","stateMutability":"nonpayable","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"approveBounty","stateMutability":"nonpayable","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"disputeBounty","stateMutability":"nonpayable","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"cancelBounty","stateMutability":"nonpayable","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"autoRelease","stateMutability":"nonpayable","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"bounties","stateMutability":"view","inputs":[{"name":"hash","type":"bytes32"}],"outputs":[{"name":"poster","type":"address"},{"name":"worker","type":"address"},{"name":"amount","type":"uint256"},{"name":"workerStake","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"submittedAt","type":"uint256"},{"name":"status","type":"uint8"},{"name":"bountyId","type":"string"}]},
	{"type":"function","name":"platformFeeBps","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"workerStakeBps","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"autoReleaseSeconds","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

// maxUint256 is the allowance value set when raising approval to max.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type Config struct {
	RPCURL          string
	ContractAddress string
	USDCAddress     string
	// PlatformKey signs autoRelease calls; hex-encoded private key.
	PlatformKey string
}

// Client is the concrete Gateway backed by an EVM L2 endpoint.
type Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	contract    common.Address
	usdc        common.Address
	platformKey *ecdsa.PrivateKey
	escrowABI   abi.ABI
	erc20ABI    abi.ABI
}

// NewClient dials the RPC endpoint and verifies the connection by fetching
// the chain id, mirroring the connect-then-ping pattern used for store
// connections.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	escrowABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	log.Printf("Connecting to escrow RPC at %s...", cfg.RPCURL)
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	log.Printf("Connected to escrow chain. Chain ID: %s", chainID)

	c := &Client{
		eth:       eth,
		chainID:   chainID,
		contract:  common.HexToAddress(cfg.ContractAddress),
		usdc:      common.HexToAddress(cfg.USDCAddress),
		escrowABI: escrowABI,
		erc20ABI:  erc20ABI,
	}
	if cfg.PlatformKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PlatformKey, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("parse platform key: %w", err)
		}
		c.platformKey = key
	}
	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// ComputeBountyHash is keccak256 over the UTF-8 bytes of the listing id,
// matching the contract's computeHash byte for byte.
func (c *Client) ComputeBountyHash(listingID string) [32]byte {
	return crypto.Keccak256Hash([]byte(listingID))
}

// ComputeBountyHash without a client, for callers that only need the key.
func ComputeBountyHash(listingID string) [32]byte {
	return crypto.Keccak256Hash([]byte(listingID))
}

// GetBounty reads the bounties mapping and rescales amounts to
// human-readable six-decimal USDC.
func (c *Client) GetBounty(ctx context.Context, hash [32]byte) (*OnChainBounty, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	data, err := c.escrowABI.Pack("bounties", hash)
	if err != nil {
		return nil, fmt.Errorf("pack bounties: %w", err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call bounties: %v: %w", err, models.ErrEscrowRPC)
	}
	out, err := c.escrowABI.Unpack("bounties", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack bounties: %v: %w", err, models.ErrEscrowRPC)
	}

	status := out[6].(uint8)
	return &OnChainBounty{
		Poster:      out[0].(common.Address).Hex(),
		Worker:      out[1].(common.Address).Hex(),
		Amount:      decimal.NewFromBigInt(out[2].(*big.Int), -usdcDecimals),
		WorkerStake: decimal.NewFromBigInt(out[3].(*big.Int), -usdcDecimals),
		Deadline:    out[4].(*big.Int).Int64(),
		SubmittedAt: out[5].(*big.Int).Int64(),
		Status:      status,
		StatusLabel: StatusLabel(status),
		BountyID:    out[7].(string),
	}, nil
}

// CreateBounty locks amount USDC against the listing. The signer's USDC
// allowance toward the escrow contract is raised to max first if it cannot
// cover the amount.
func (c *Client) CreateBounty(ctx context.Context, signerKey, listingID string, amount decimal.Decimal, deadline time.Time) (string, error) {
	key, err := parseKey(signerKey)
	if err != nil {
		return "", err
	}
	rawAmount := amount.Shift(usdcDecimals).BigInt()
	if err := c.ensureAllowance(ctx, key, rawAmount); err != nil {
		return "", err
	}
	return c.write(ctx, key, "createBounty", listingID, rawAmount, big.NewInt(deadline.Unix()))
}

// ClaimBounty commits the worker with a 10% stake; allowance covers the
// stake before the claim is sent.
func (c *Client) ClaimBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error) {
	key, err := parseKey(signerKey)
	if err != nil {
		return "", err
	}
	bounty, err := c.GetBounty(ctx, hash)
	if err != nil {
		return "", err
	}
	stake := bounty.WorkerStake.Shift(usdcDecimals).BigInt()
	if err := c.ensureAllowance(ctx, key, stake); err != nil {
		return "", err
	}
	return c.write(ctx, key, "claimBounty", hash)
}

func (c *Client) SubmitBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error) {
	key, err := parseKey(signerKey)
	if err != nil {
		return "", err
	}
	return c.write(ctx, key, "submitBounty", hash)
}

func (c *Client) ApproveBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error) {
	key, err := parseKey(signerKey)
	if err != nil {
		return "", err
	}
	return c.write(ctx, key, "approveBounty", hash)
}

func (c *Client) DisputeBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error) {
	key, err := parseKey(signerKey)
	if err != nil {
		return "", err
	}
	return c.write(ctx, key, "disputeBounty", hash)
}

func (c *Client) CancelBounty(ctx context.Context, signerKey string, hash [32]byte) (string, error) {
	key, err := parseKey(signerKey)
	if err != nil {
		return "", err
	}
	return c.write(ctx, key, "cancelBounty", hash)
}

// AutoRelease is signed with the platform wallet; only the reconciler calls
// it.
func (c *Client) AutoRelease(ctx context.Context, hash [32]byte) (string, error) {
	if c.platformKey == nil {
		return "", fmt.Errorf("platform wallet key not configured: %w", models.ErrEscrowRPC)
	}
	return c.write(ctx, c.platformKey, "autoRelease", hash)
}

// AutoReleaseSeconds reads the contract's configured release window.
func (c *Client) AutoReleaseSeconds(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	data, err := c.escrowABI.Pack("autoReleaseSeconds")
	if err != nil {
		return 0, fmt.Errorf("pack autoReleaseSeconds: %w", err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call autoReleaseSeconds: %v: %w", err, models.ErrEscrowRPC)
	}
	out, err := c.escrowABI.Unpack("autoReleaseSeconds", raw)
	if err != nil {
		return 0, fmt.Errorf("unpack autoReleaseSeconds: %v: %w", err, models.ErrEscrowRPC)
	}
	return out[0].(*big.Int).Int64(), nil
}

func parseKey(signerKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", models.ErrInvalidArgument)
	}
	return key, nil
}

// ensureAllowance raises the signer's USDC allowance toward the escrow
// contract to max when it cannot cover required.
func (c *Client) ensureAllowance(ctx context.Context, key *ecdsa.PrivateKey, required *big.Int) error {
	owner := crypto.PubkeyToAddress(key.PublicKey)

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	data, err := c.erc20ABI.Pack("allowance", owner, c.contract)
	if err != nil {
		return fmt.Errorf("pack allowance: %w", err)
	}
	raw, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call allowance: %v: %w", err, models.ErrEscrowRPC)
	}
	out, err := c.erc20ABI.Unpack("allowance", raw)
	if err != nil {
		return fmt.Errorf("unpack allowance: %v: %w", err, models.ErrEscrowRPC)
	}
	current := out[0].(*big.Int)
	if current.Cmp(required) >= 0 {
		return nil
	}

	log.Printf("[Escrow] allowance %s below required %s for %s, approving max", current, required, owner.Hex())
	approveData, err := c.erc20ABI.Pack("approve", c.contract, maxUint256)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}
	if _, err := c.send(ctx, key, c.usdc, approveData); err != nil {
		return err
	}
	return nil
}

// write packs an escrow contract call, signs it, sends it and waits for one
// confirmation. Returns the confirmed transaction hash.
func (c *Client) write(ctx context.Context, key *ecdsa.PrivateKey, method string, args ...interface{}) (string, error) {
	data, err := c.escrowABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	return c.send(ctx, key, c.contract, data)
}

func (c *Client) send(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("nonce: %v: %w", err, models.ErrEscrowRPC)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %v: %w", err, models.ErrEscrowRPC)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %v: %w", err, models.ErrEscrowRPC)
	}
	// 20% headroom over the estimate.
	gasLimit = gasLimit * 120 / 100

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %v: %w", err, models.ErrEscrowRPC)
	}
	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send tx: %v: %w", err, models.ErrEscrowRPC)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, signedTx)
	if err != nil {
		return "", fmt.Errorf("wait mined %s: %v: %w", signedTx.Hash().Hex(), err, models.ErrEscrowRPC)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("tx %s reverted: %w", signedTx.Hash().Hex(), models.ErrEscrowRPC)
	}
	return signedTx.Hash().Hex(), nil
}
