package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"
	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/shinkai/internal/cluster"
	"github.com/rakunlabs/shinkai/internal/config"
	"github.com/rakunlabs/shinkai/internal/crypto"
	"github.com/rakunlabs/shinkai/internal/embedding"
	"github.com/rakunlabs/shinkai/internal/envelope"
	"github.com/rakunlabs/shinkai/internal/identity"
	"github.com/rakunlabs/shinkai/internal/inboxstore"
	"github.com/rakunlabs/shinkai/internal/jobengine"
	"github.com/rakunlabs/shinkai/internal/llm"
	"github.com/rakunlabs/shinkai/internal/llm/antropic"
	"github.com/rakunlabs/shinkai/internal/llm/openai"
	"github.com/rakunlabs/shinkai/internal/relay"
	"github.com/rakunlabs/shinkai/internal/storage"
	"github.com/rakunlabs/shinkai/internal/storage/memstore"
	"github.com/rakunlabs/shinkai/internal/subscriptionsync"
	"github.com/rakunlabs/shinkai/internal/vectorfs"
	"github.com/rakunlabs/shinkai/internal/workflowdsl"
	"github.com/rakunlabs/shinkai/internal/wsbroadcast"
	"github.com/rakunlabs/shinkai/pkg/vectorindex"
)

var (
	name    = "shinkaid"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

// run wires every subsystem into a single running node: identity + storage,
// the on-chain registry client, the TCP relay, the job execution engine
// (with its inference chain router and inbox outbox), the subscription
// sync loop, and the websocket broadcaster's HTTP listener. There is no
// single upstream entrypoint this mirrors end to end — it composes the
// idioms each subsystem already follows on its own.
func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	bundle, self, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	slog.Info("node identity loaded", "node", self.Format())

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	chainReader, err := identity.NewHTTPChainReader(cfg.Registry.RPCURL, cfg.Registry.ContractAddress)
	if err != nil {
		return fmt.Errorf("failed to build registry reader: %w", err)
	}
	registryClient := identity.NewRegistryClient(chainReader, cfg.Registry.CacheTTL)
	registryAdapter := identity.RegistryAdapter{Client: registryClient}

	if err := identity.VerifyLocalIdentity(ctx, registryClient, self.Format(), bundle); err != nil {
		return fmt.Errorf("local identity does not match on-chain registry record: %w", err)
	}

	decryptedProviders, err := decryptProviderConfigs(cfg.Providers, bundle.Encryption.Private)
	if err != nil {
		return fmt.Errorf("failed to decrypt llm provider configs: %w", err)
	}

	providers, err := buildProviders(decryptedProviders)
	if err != nil {
		return fmt.Errorf("failed to build llm providers: %w", err)
	}
	defaultProviderKey, defaultModel, err := firstProviderKey(decryptedProviders)
	if err != nil {
		return fmt.Errorf("failed to select a default llm provider: %w", err)
	}

	embedGen, err := embedding.New(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Proxy, cfg.Embedding.InsecureSkipVerify)
	if err != nil {
		return fmt.Errorf("failed to build embedding generator: %w", err)
	}

	digestChain, err := buildMessageDigestChain()
	if err != nil {
		return fmt.Errorf("failed to build message-digest workflow chain: %w", err)
	}

	router, err := jobengine.NewRouter(ctx, embedGen.Generate,
		jobengine.QAChain{},
		jobengine.SummaryChain{},
		jobengine.SheetChain{},
		digestChain,
	)
	if err != nil {
		return fmt.Errorf("failed to build job router: %w", err)
	}

	manager := jobengine.NewManager(store, router)
	outbox := inboxstore.New(store)
	broadcaster := wsbroadcast.New(registryAdapter)
	stepRunner := jobengine.NewStepRunner(router, self, bundle.Signing, outbox, jobNotifier{broadcaster: broadcaster})

	cc := jobengine.ChainContext{
		Provider: providers[defaultProviderKey],
		Model:    defaultModel,
		Embed:    embedGen.Generate,
	}

	vfs, closeVFSIndex, err := buildVectorFS(ctx, store, cfg.VectorIndex)
	if err != nil {
		return fmt.Errorf("failed to build vector fs: %w", err)
	}
	defer closeVFSIndex()

	mirror, err := subscriptionsync.NewHTTPMirror(cfg.Subscription.Proxy, cfg.Subscription.InsecureSkipVerify)
	if err != nil {
		return fmt.Errorf("failed to build subscription mirror client: %w", err)
	}
	subState := subscriptionsync.NewStateStore(store)
	if err := subState.RecoverFromCrash(ctx); err != nil {
		slog.Error("subscription sync crash recovery failed", "error", err)
	}
	subRegistry := subscriptionsync.NewRegistry(store)
	syncer := subscriptionsync.NewSyncer(mirror, vfs, subState, int(cfg.Subscription.UploadConcurrency), subRegistry.List)

	relayServer := relay.NewServer(self, bundle.Signing, bundle.Encryption, registryAdapter, nil)
	relayAddr := net.JoinHostPort(cfg.Relay.Host, cfg.Relay.Port)
	relayLn, err := net.Listen("tcp", relayAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on relay address %s: %w", relayAddr, err)
	}

	mux := buildMux(cfg, broadcaster)
	httpAddr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}

	cl, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("failed to build cluster coordinator: %w", err)
	}

	errCh := make(chan error, 8)

	go func() {
		slog.Info("relay listening", "addr", relayAddr)
		errCh <- relayServer.Serve(ctx, relayLn)
	}()

	go manager.RunWorkers(ctx, 4, func(stepCtx context.Context, job *jobengine.Job, raw []byte) error {
		return stepRunner.Process(stepCtx, cc, job, raw)
	})

	go func() {
		slog.Info("http listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	go runSyncLoop(ctx, cl, syncer, cfg.Subscription.Interval, errCh)

	if cl != nil {
		go func() {
			errCh <- cl.Start(ctx, nil)
		}()
	}

	go func() {
		errCh <- runLocalInboxListener(ctx, relayAddr, self, bundle, manager)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// runSyncLoop starts the subscription sync cron, deferring to the cluster's
// scheduler lock when clustering is configured so only one replica drives
// uploads at a time.
func runSyncLoop(ctx context.Context, cl *cluster.Cluster, syncer *subscriptionsync.Syncer, interval string, errCh chan<- error) {
	if cl != nil {
		if err := cl.LockScheduler(ctx); err != nil {
			errCh <- fmt.Errorf("subscriptionsync: acquire scheduler lock: %w", err)
			return
		}
		defer cl.UnlockScheduler()
	}

	runner, err := syncer.Run(ctx, interval)
	if err != nil {
		errCh <- fmt.Errorf("subscriptionsync: start sync loop: %w", err)
		return
	}
	<-ctx.Done()
	runner.Stop()
}

// buildMux assembles the HTTP listener for the websocket broadcaster,
// mirroring AT's own ada.New middleware chain and route-group convention.
func buildMux(cfg *config.Config, broadcaster *wsbroadcast.Broadcaster) *ada.Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	apiGroup := mux.Group(cfg.Server.BasePath + "/api")
	apiGroup.GET("/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		broadcaster.ServeHTTP(r.Context(), w, r)
	})

	return mux
}

// jobNotifier adapts the job engine's per-step Notifier callback to the
// websocket broadcaster's topic/subtopic fan-out, pushing each new
// assistant reply under the "job" topic keyed by job ID (spec §4.7 step 6,
// §4.9 "handle_update").
type jobNotifier struct {
	broadcaster *wsbroadcast.Broadcaster
}

func (n jobNotifier) Notify(jobID string, prompt jobengine.Prompt) {
	if err := n.broadcaster.HandleUpdate("job", jobID, prompt); err != nil {
		slog.Error("wsbroadcast: notify failed", "job_id", jobID, "error", err)
	}
}

// messageDigestWorkflowSource classifies an inbound message by length
// before handing a verdict back as the chain's reply: short messages are
// answered directly, long ones flagged for the summary chain instead (spec
// §4.6/§4.7 "workflows are invoked as inference chains too"). It is the
// node's one built-in automation, demonstrating the run_script bridge
// end-to-end rather than leaving it test-only.
const messageDigestWorkflowSource = `
workflow MessageDigest v1 {
  step Measure {
    $R1 = call run_script("length")
  }
  step Classify {
    if $R1 > 280 {
      $R2 = 1
    }
  }
}
`

var messageDigestScripts = map[string]string{
	"length": `var result = toString(msg).length`,
}

// buildMessageDigestChain parses the built-in automation workflow once and
// returns a jobengine.WorkflowChain whose RunFn runs a fresh
// workflowdsl.Engine per invocation (a workflow is restartable only from its
// beginning), seeding the JS sandbox with the inbound message and reporting
// the resulting classification back as the chain's reply text.
func buildMessageDigestChain() (jobengine.WorkflowChain, error) {
	wf, err := workflowdsl.Parse(messageDigestWorkflowSource)
	if err != nil {
		return jobengine.WorkflowChain{}, fmt.Errorf("parse message-digest workflow: %w", err)
	}

	runFn := func(ctx context.Context, userMessage string) (string, error) {
		inputs := map[string]any{"msg": []byte(userMessage)}
		engine := workflowdsl.NewScriptedEngine(wf, messageDigestScripts, inputs, nil)
		regs, err := engine.Run()
		if err != nil {
			return "", fmt.Errorf("run message-digest workflow: %w", err)
		}
		if regs["R2"] == 1 {
			return fmt.Sprintf("message is %d characters long, longer than the digest threshold; consider the summary chain instead", regs["R1"]), nil
		}
		return fmt.Sprintf("message is %d characters long", regs["R1"]), nil
	}

	return jobengine.WorkflowChain{WorkflowName: "message_digest", RunFn: runFn}, nil
}

// decryptProviderConfigs decrypts any "enc:"-prefixed api_key/extra_headers
// values in cfgs using the node's own encryption secret — the same key
// material spec §6's .secret file already holds, reused here so operators
// can commit an encrypted provider config to disk without it doubling as
// the node's own key store. Values without the "enc:" prefix pass through
// unchanged, so plaintext configs (local dev) keep working.
func decryptProviderConfigs(cfgs map[string]config.LLMConfig, key [32]byte) (map[string]config.LLMConfig, error) {
	out := make(map[string]config.LLMConfig, len(cfgs))
	for name, c := range cfgs {
		dec, err := crypto.DecryptLLMConfig(c, key[:])
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		out[name] = dec
	}
	return out, nil
}

// buildProviders constructs one llm.Provider per configured entry, keyed by
// its config map key.
func buildProviders(cfgs map[string]config.LLMConfig) (map[string]llm.Provider, error) {
	providers := make(map[string]llm.Provider, len(cfgs))
	for key, c := range cfgs {
		provider, err := buildProvider(c)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", key, err)
		}
		providers[key] = provider
	}
	return providers, nil
}

func buildProvider(c config.LLMConfig) (llm.Provider, error) {
	switch c.Type {
	case "anthropic":
		return antropic.New(c.APIKey, c.Model, c.BaseURL, c.Proxy, c.InsecureSkipVerify)
	case "openai":
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.Proxy, c.InsecureSkipVerify, c.ExtraHeaders)
	default:
		return nil, fmt.Errorf("unknown llm provider type %q", c.Type)
	}
}

// firstProviderKey picks a deterministic default provider (the
// lexicographically smallest key, and its configured model) out of the
// provider map, used as the chain context's backing LLM until a job
// specifies otherwise.
func firstProviderKey(cfgs map[string]config.LLMConfig) (string, string, error) {
	if len(cfgs) == 0 {
		return "", "", fmt.Errorf("no llm providers configured")
	}
	first, found := "", false
	for key := range cfgs {
		if !found || key < first {
			first, found = key, true
		}
	}
	return first, cfgs[first].Model, nil
}

// buildVectorFS opens the Vector FS store, wiring it to a pgvector-backed
// ExternalIndex when cfg.Datasource is set so ingested chunk embeddings are
// mirrored for faster candidate pre-filtering; otherwise the in-process
// recursive search remains the only path (spec §9). The returned close
// function is always safe to call, even when no index was opened.
func buildVectorFS(ctx context.Context, store storage.Store, cfg config.VectorIndex) (*vectorfs.Store, func(), error) {
	if cfg.Datasource == "" {
		return vectorfs.New(store), func() {}, nil
	}

	index, err := vectorindex.Open(ctx, vectorindex.Config{
		Datasource: cfg.Datasource,
		Table:      cfg.Table,
		Dimensions: cfg.Dimensions,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open external vector index: %w", err)
	}
	return vectorfs.NewWithIndex(store, index), index.Close, nil
}

// openStore opens the bbolt-backed store at cfg.Path, or an in-memory store
// when Path is empty (local dev / tests).
func openStore(cfg config.Storage) (storage.Store, error) {
	if cfg.Path == "" {
		slog.Warn("no storage path configured, using in-memory store")
		return memstore.New(), nil
	}
	return storage.OpenBbolt(cfg.Path)
}

// loadIdentity reads the node's key material from the ".secret" KEY=VALUE
// file (spec §6), falling back to generating and persisting a fresh bundle
// if the file doesn't exist yet.
func loadIdentity(cfg config.Identity) (identity.KeyBundle, identity.NodeName, error) {
	secrets, err := readSecretFile(cfg.SecretFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return identity.KeyBundle{}, identity.NodeName{}, fmt.Errorf("read secret file %s: %w", cfg.SecretFile, err)
		}
		return generateAndPersistIdentity(cfg)
	}

	nodeNameRaw := secrets["GLOBAL_IDENTITY_NAME"]
	if nodeNameRaw == "" {
		nodeNameRaw = cfg.NodeName
	}
	self, err := identity.ParseNodeName(nodeNameRaw)
	if err != nil {
		return identity.KeyBundle{}, identity.NodeName{}, fmt.Errorf("parse node name %q: %w", nodeNameRaw, err)
	}

	bundle, err := identity.KeyBundleFromHex(secrets["IDENTITY_SECRET_KEY"], secrets["ENCRYPTION_SECRET_KEY"])
	if err != nil {
		return identity.KeyBundle{}, identity.NodeName{}, fmt.Errorf("decode key bundle: %w", err)
	}
	return bundle, self, nil
}

func generateAndPersistIdentity(cfg config.Identity) (identity.KeyBundle, identity.NodeName, error) {
	self, err := identity.ParseNodeName(cfg.NodeName)
	if err != nil {
		return identity.KeyBundle{}, identity.NodeName{}, fmt.Errorf("parse node name %q: %w", cfg.NodeName, err)
	}

	bundle, err := identity.GenerateKeyBundle()
	if err != nil {
		return identity.KeyBundle{}, identity.NodeName{}, fmt.Errorf("generate key bundle: %w", err)
	}

	identitySecretHex, encryptionSecretHex := bundle.HexSecrets()
	contents := fmt.Sprintf(
		"GLOBAL_IDENTITY_NAME=%s\nIDENTITY_SECRET_KEY=%s\nENCRYPTION_SECRET_KEY=%s\n",
		self.Format(), identitySecretHex, encryptionSecretHex,
	)
	if err := os.WriteFile(cfg.SecretFile, []byte(contents), 0o600); err != nil {
		return identity.KeyBundle{}, identity.NodeName{}, fmt.Errorf("write secret file %s: %w", cfg.SecretFile, err)
	}
	slog.Info("generated fresh node identity", "secret_file", cfg.SecretFile, "node", self.Format())

	return bundle, self, nil
}

// readSecretFile parses the ".secret" KEY=VALUE file format (spec §6).
func readSecretFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out, scanner.Err()
}

// runLocalInboxListener keeps a persistent loopback connection open to this
// node's own relay listener (spec §4.5 "local delivery"): any frame
// forwarded to our own identity — from another peer, or from a local
// client routing through the relay — is decoded and handed to the job
// engine, completing the path from wire frame to queued job message.
func runLocalInboxListener(ctx context.Context, relayAddr string, self identity.NodeName, bundle identity.KeyBundle, manager *jobengine.Manager) error {
	conn, err := relay.Dial(ctx, relayAddr, self.Format(), bundle.Signing.Private, relay.NetworkMessage{
		Identity: self.Format(),
		Type:     relay.TypeShinkaiMessage,
	})
	if err != nil {
		return fmt.Errorf("local inbox listener: dial self relay: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		frame, err := relay.ReadFrame(conn)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("local inbox listener: read frame: %w", err)
			}
		}
		if frame.Type != relay.TypeShinkaiMessage || len(frame.Payload) == 0 {
			continue
		}

		var msg envelope.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			slog.Warn("local inbox listener: decode message failed", "error", err)
			continue
		}
		if err := ensureConversationJob(ctx, manager, self.Format(), msg); err != nil {
			slog.Warn("local inbox listener: dispatch failed", "error", err)
		}
	}
}

// ensureConversationJob resolves (creating if necessary) the job backing an
// inbound message's conversation inbox, then enqueues the message.
func ensureConversationJob(ctx context.Context, manager *jobengine.Manager, parentAgentID string, msg envelope.Message) error {
	if msg.Body.Unencrypted == nil {
		return fmt.Errorf("ensureConversationJob: message has no unencrypted inbox to route on")
	}
	inboxName := msg.Body.Unencrypted.InternalMetadata.Inbox
	parsed, err := envelope.ParseInboxName(inboxName)
	if err != nil {
		return fmt.Errorf("ensureConversationJob: %w", err)
	}
	jobID := parsed.JobID
	if jobID == "" {
		jobID = inboxName
	}

	if _, err := manager.EnsureJob(ctx, jobID, parentAgentID, inboxName, jobengine.JobScope{}); err != nil {
		return fmt.Errorf("ensureConversationJob: %w", err)
	}
	return manager.Enqueue(ctx, jobID, msg)
}
