// Package serviceonboard implements POST /services: given a service
// manager's (chain, address), fetch its service descriptor, persist it to
// the registry, resolve component bytecode into the content-addressed
// store, and subscribe every workflow's trigger.
package serviceonboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wavs-labs/wavs/internal/app/castore"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/registry"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// serviceURIABI is the single view call this package makes on a service
// manager contract: resolve the off-chain URI holding its descriptor.
var serviceURIABI = mustParseServiceURIABI()

func mustParseServiceURIABI() abi.ABI {
	const def = `[{"type":"function","name":"serviceURI","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}]`
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("serviceonboard: parse embedded ABI: %v", err))
	}
	return parsed
}

// descriptorWire is the JSON shape of a service descriptor document fetched
// from the URI a service manager contract points to.
type descriptorWire struct {
	Name      string                         `json:"name"`
	Workflows map[string]workflowDescriptor `json:"workflows"`
}

type workflowDescriptor struct {
	Trigger triggerWire `json:"trigger"`
	Component struct {
		Source struct {
			Kind           string `json:"kind"`
			Digest         string `json:"digest,omitempty"`
			URL            string `json:"url,omitempty"`
			RegistryDomain string `json:"registry_domain,omitempty"`
			RegistryPkg    string `json:"registry_pkg,omitempty"`
			RegistryVer    string `json:"registry_version,omitempty"`
		} `json:"source"`
		Permissions struct {
			FileSystem       bool     `json:"file_system"`
			AllowedHTTPHosts string   `json:"allowed_http_hosts"`
			OnlyHosts        []string `json:"only_hosts,omitempty"`
			RawSockets       bool     `json:"raw_sockets"`
			DNS              bool     `json:"dns"`
		} `json:"permissions"`
		FuelLimit        uint64            `json:"fuel_limit,omitempty"`
		TimeLimitSeconds uint32            `json:"time_limit_seconds,omitempty"`
		Config           map[string]string `json:"config,omitempty"`
		EnvKeys          []string          `json:"env_keys,omitempty"`
	} `json:"component"`
	Submit submitWire `json:"submit"`
}

type triggerWire struct {
	Kind       string  `json:"kind"`
	Chain      string  `json:"chain,omitempty"`
	Address    string  `json:"address,omitempty"`
	EventHash  string  `json:"event_hash,omitempty"`
	EventType  string  `json:"event_type,omitempty"`
	NBlocks    uint64  `json:"n_blocks,omitempty"`
	StartBlock *uint64 `json:"start_block,omitempty"`
	EndBlock   *uint64 `json:"end_block,omitempty"`
	Schedule   string  `json:"schedule,omitempty"`
	StartTime  string  `json:"start_time,omitempty"`
	EndTime    string  `json:"end_time,omitempty"`
}

type submitWire struct {
	Kind          string  `json:"kind"`
	Chain         string  `json:"chain,omitempty"`
	Address       string  `json:"address,omitempty"`
	MaxGas        *uint64 `json:"max_gas,omitempty"`
	URL           string  `json:"url,omitempty"`
	SignaturePrefix string `json:"signature_prefix,omitempty"`
}

// EvmCaller is the subset of ethclient.Client needed to read a view
// function's return value.
type EvmCaller interface {
	CallContract(ctx context.Context, call interface{ To() *common.Address }, blockNumber interface{}) ([]byte, error)
}

// ChainCaller abstracts the eth_call used to read serviceURI() from a
// per-chain EVM client, keyed by wavs.ChainKey.
type ChainCaller func(ctx context.Context, chain wavs.ChainKey, to common.Address, data []byte) ([]byte, error)

// Onboarder implements the add_service/delete_service operations backing
// POST/DELETE /services.
type Onboarder struct {
	log         *logger.Logger
	registry    registry.Store
	castore     castore.Store
	call        ChainCaller
	http        *http.Client
	ipfsGateway string
	subscriber  TriggerSubscriber
}

// TriggerSubscriber is the narrow surface of trigger.Manager an onboarder
// needs: subscribe every workflow's trigger on add, tear them all down on
// delete.
type TriggerSubscriber interface {
	AddTrigger(serviceID wavs.ServiceId, workflowID wavs.WorkflowId, cfg wavs.TriggerConfig, currentHeight uint64) error
	RemoveTrigger(serviceID wavs.ServiceId, workflowID wavs.WorkflowId)
}

// NewOnboarder constructs an Onboarder. ipfsGateway is prefixed onto
// "ipfs://" URIs (the operator's --ipfs-gateway flag, §6).
func NewOnboarder(log *logger.Logger, reg registry.Store, ca castore.Store, call ChainCaller, ipfsGateway string, sub TriggerSubscriber) *Onboarder {
	return &Onboarder{
		log: log, registry: reg, castore: ca, call: call,
		http: &http.Client{Timeout: 15 * time.Second}, ipfsGateway: ipfsGateway, subscriber: sub,
	}
}

// AddService fetches manager's service descriptor, stores it, resolves
// every workflow's component into the content-addressed store, and
// subscribes every trigger (§6's POST /services).
func (o *Onboarder) AddService(ctx context.Context, manager wavs.ServiceManager) (wavs.ServiceId, error) {
	uri, err := o.fetchServiceURI(ctx, manager)
	if err != nil {
		return wavs.ServiceId{}, fmt.Errorf("serviceonboard: fetch serviceURI: %w", err)
	}
	doc, err := o.fetchDescriptor(ctx, uri)
	if err != nil {
		return wavs.ServiceId{}, fmt.Errorf("serviceonboard: fetch descriptor from %s: %w", uri, err)
	}

	svc := wavs.Service{
		Name:      doc.Name,
		Status:    wavs.StatusActive,
		Manager:   manager,
		Workflows: make(map[wavs.WorkflowId]wavs.Workflow, len(doc.Workflows)),
	}
	for idStr, wfDoc := range doc.Workflows {
		wf, err := wfDoc.toWorkflow()
		if err != nil {
			return wavs.ServiceId{}, fmt.Errorf("serviceonboard: workflow %s: %w", idStr, err)
		}
		svc.Workflows[wavs.WorkflowId(idStr)] = wf
	}
	if err := svc.Validate(); err != nil {
		return wavs.ServiceId{}, err
	}

	for id, wf := range svc.Workflows {
		digest, err := o.castore.Fetch(ctx, wf.Component.Source)
		if err != nil {
			return wavs.ServiceId{}, fmt.Errorf("serviceonboard: resolve component for workflow %s: %w", id, err)
		}
		wf.Component.Source = wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: digest}
		svc.Workflows[id] = wf
	}

	id, err := o.registry.AddService(ctx, svc)
	if err != nil {
		return wavs.ServiceId{}, err
	}

	for workflowID, wf := range svc.Workflows {
		if err := o.subscriber.AddTrigger(id, workflowID, wf.Trigger, 0); err != nil {
			o.log.WithField("service_id", id.String()).WithField("workflow_id", string(workflowID)).
				WithField("error", err).Error("serviceonboard: subscribe trigger failed")
		}
	}
	return id, nil
}

// DeleteService tears down subscriptions and removes the stored service.
func (o *Onboarder) DeleteService(ctx context.Context, manager wavs.ServiceManager) error {
	id := wavs.DeriveServiceId(manager.Chain, manager.Address)
	svc, err := o.registry.GetService(ctx, id)
	if err != nil {
		return err
	}
	for workflowID := range svc.Workflows {
		o.subscriber.RemoveTrigger(id, workflowID)
	}
	return o.registry.DeleteService(ctx, id)
}

func (o *Onboarder) fetchServiceURI(ctx context.Context, manager wavs.ServiceManager) (string, error) {
	data, err := serviceURIABI.Pack("serviceURI")
	if err != nil {
		return "", err
	}
	out, err := o.call(ctx, manager.Chain, common.HexToAddress(manager.Address), data)
	if err != nil {
		return "", err
	}
	results, err := serviceURIABI.Unpack("serviceURI", out)
	if err != nil {
		return "", err
	}
	if len(results) != 1 {
		return "", fmt.Errorf("serviceURI(): expected 1 return value, got %d", len(results))
	}
	uri, _ := results[0].(string)
	return uri, nil
}

func (o *Onboarder) fetchDescriptor(ctx context.Context, uri string) (descriptorWire, error) {
	resolved := uri
	if strings.HasPrefix(uri, "ipfs://") {
		resolved = strings.TrimRight(o.ipfsGateway, "/") + "/ipfs/" + strings.TrimPrefix(uri, "ipfs://")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return descriptorWire{}, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return descriptorWire{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return descriptorWire{}, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	var doc descriptorWire
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return descriptorWire{}, err
	}
	return doc, nil
}

func (d workflowDescriptor) toWorkflow() (wavs.Workflow, error) {
	trig, err := d.Trigger.toTriggerConfig()
	if err != nil {
		return wavs.Workflow{}, err
	}
	comp, err := d.toComponent()
	if err != nil {
		return wavs.Workflow{}, err
	}
	sub, err := d.Submit.toSubmitConfig()
	if err != nil {
		return wavs.Workflow{}, err
	}
	return wavs.Workflow{Trigger: trig, Component: comp, Submit: sub}, nil
}

func (t triggerWire) toTriggerConfig() (wavs.TriggerConfig, error) {
	cfg := wavs.TriggerConfig{
		Chain: wavs.ChainKey(t.Chain), Address: t.Address,
		EventHash: t.EventHash, EventType: t.EventType,
		NBlocks: t.NBlocks, StartBlock: t.StartBlock, EndBlock: t.EndBlock,
		Schedule: t.Schedule,
	}
	if t.StartTime != "" {
		ts, err := time.Parse(time.RFC3339, t.StartTime)
		if err != nil {
			return wavs.TriggerConfig{}, fmt.Errorf("start_time: %w", err)
		}
		cfg.StartTime = &ts
	}
	if t.EndTime != "" {
		ts, err := time.Parse(time.RFC3339, t.EndTime)
		if err != nil {
			return wavs.TriggerConfig{}, fmt.Errorf("end_time: %w", err)
		}
		cfg.EndTime = &ts
	}
	switch t.Kind {
	case "manual":
		cfg.Kind = wavs.TriggerManual
	case "cron":
		cfg.Kind = wavs.TriggerCron
	case "block_interval":
		cfg.Kind = wavs.TriggerBlockInterval
	case "evm_contract_event":
		cfg.Kind = wavs.TriggerEvmContractEvent
	case "cosmos_contract_event":
		cfg.Kind = wavs.TriggerCosmosContractEvent
	default:
		return wavs.TriggerConfig{}, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return cfg, nil
}

func (d workflowDescriptor) toComponent() (wavs.Component, error) {
	src := d.Component.Source
	comp := wavs.Component{
		FuelLimit:        d.Component.FuelLimit,
		TimeLimitSeconds: d.Component.TimeLimitSeconds,
		Config:           d.Component.Config,
		EnvKeys:          d.Component.EnvKeys,
	}
	switch src.Kind {
	case "digest":
		digest, err := wavs.ParseComponentDigest(src.Digest)
		if err != nil {
			return wavs.Component{}, err
		}
		comp.Source = wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: digest}
	case "download":
		var digest wavs.ComponentDigest
		if src.Digest != "" {
			d, err := wavs.ParseComponentDigest(src.Digest)
			if err != nil {
				return wavs.Component{}, err
			}
			digest = d
		}
		comp.Source = wavs.ComponentSource{Kind: wavs.SourceDownload, URL: src.URL, Digest: digest}
	case "registry":
		var digest wavs.ComponentDigest
		if src.Digest != "" {
			d, err := wavs.ParseComponentDigest(src.Digest)
			if err != nil {
				return wavs.Component{}, err
			}
			digest = d
		}
		comp.Source = wavs.ComponentSource{Kind: wavs.SourceRegistry, RegistryDomain: src.RegistryDomain, RegistryPkg: src.RegistryPkg, RegistryVer: src.RegistryVer, Digest: digest}
	default:
		return wavs.Component{}, fmt.Errorf("unknown component source kind %q", src.Kind)
	}

	perm := d.Component.Permissions
	comp.Permissions = wavs.Permissions{FileSystem: perm.FileSystem, RawSockets: perm.RawSockets, DNS: perm.DNS, OnlyHosts: perm.OnlyHosts}
	switch perm.AllowedHTTPHosts {
	case "all":
		comp.Permissions.AllowedHTTPHosts = wavs.HTTPHostsAll
	case "only":
		comp.Permissions.AllowedHTTPHosts = wavs.HTTPHostsOnly
	default:
		comp.Permissions.AllowedHTTPHosts = wavs.HTTPHostsNone
	}
	return comp, nil
}

func (s submitWire) toSubmitConfig() (wavs.SubmitConfig, error) {
	cfg := wavs.SubmitConfig{Chain: wavs.ChainKey(s.Chain), Address: s.Address, MaxGas: s.MaxGas, URL: s.URL}
	switch s.Kind {
	case "", "none":
		cfg.Kind = wavs.SubmitNone
	case "ethereum_contract":
		cfg.Kind = wavs.SubmitEthereumContract
	case "aggregator":
		cfg.Kind = wavs.SubmitAggregator
		cfg.SignatureKind = wavs.DefaultSignatureKind
		if s.SignaturePrefix == "eip191" {
			cfg.SignatureKind.Prefix = wavs.PrefixEip191
		}
	default:
		return wavs.SubmitConfig{}, fmt.Errorf("unknown submit kind %q", s.Kind)
	}
	return cfg, nil
}
