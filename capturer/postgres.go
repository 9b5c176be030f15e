package capturer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/collabforge/authsync/pgrepl"
)

const outputPlugin = "pgoutput"

type PostgresCapturer struct {
	conn   *pgconn.PgConn
	cfg    Config
	logger Logger

	pubCreated  bool
	slotCreated bool
	running     bool

	ctx          context.Context
	cancelFn     context.CancelFunc
	wg           sync.WaitGroup
	transactions chan *Transaction
	appliedLSN   pglogrepl.LSN
	termErr      error
	mu           sync.Mutex
}

func NewPostgresCapturer(cfg Config, logger Logger) *PostgresCapturer {
	if logger == nil {
		logger = &noopLogger{}
	}
	if cfg.TransactionBufferSize == 0 {
		cfg.TransactionBufferSize = 32
	}
	pc := &PostgresCapturer{
		cfg:          cfg,
		transactions: make(chan *Transaction, cfg.TransactionBufferSize),
		logger:       logger,
	}
	pc.ctx, pc.cancelFn = context.WithCancel(context.Background())

	return pc
}

var _ Capturer = (*PostgresCapturer)(nil)

// Start implements Capturer.
func (p *PostgresCapturer) Start() error {
	if p.IsRunning() {
		return fmt.Errorf("capturer already running")
	}

	if err := p.init(p.ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// closing the channel is how downstream learns the stream died;
		// a blocked Transactions() receive otherwise stalls forever
		defer close(p.transactions)

		if err := p.streamChanges(p.ctx); err != nil && p.ctx.Err() == nil {
			p.setErr(err)
			p.logger.Errorf("replication loop terminated: %v", err)
		}
	}()

	p.setRunning(true)
	return nil
}

// Stop implements Capturer.
func (p *PostgresCapturer) Stop() error {
	if !p.IsRunning() {
		return fmt.Errorf("capturer not running")
	}

	p.cancelFn()

	if err := p.cleanUp(context.Background()); err != nil {
		p.logger.Errorf("failed to clean up: %v", err)
	}

	p.wg.Wait()

	p.setRunning(false)
	p.logger.Infof("capturer stopped")

	return nil
}

func (p *PostgresCapturer) Transactions() <-chan *Transaction {
	return p.transactions
}

func (p *PostgresCapturer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PostgresCapturer) setRunning(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = running
}

// streamChanges runs the replication receive loop. It returns nil on
// context cancellation and an error on any protocol, decode, or
// connection failure; such failures are fatal to the pipeline.
func (p *PostgresCapturer) streamChanges(ctx context.Context) error {
	conn, err := p.getReplicationConn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get replication connection: %w", err)
	}
	defer conn.Close(context.Background())

	startLSN := p.confirmedLSN(ctx)

	p.logger.Infof("starting replication from LSN %s", startLSN.String())

	err = pglogrepl.StartReplication(ctx, conn, p.cfg.SlotName, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '1'",
			fmt.Sprintf("publication_names '%s'", p.cfg.PublicationName),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}

	standbyMessageTimeout := time.Second * 5
	standbyTicker := time.NewTicker(time.Second)
	defer standbyTicker.Stop()
	nextStandbyMessageDeadline := time.Now().Add(standbyMessageTimeout)
	clientXLogPos := startLSN

	decoder := NewDecoder(p.transactions, p.logger)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Infof("capturer exiting: %v", p.ctx.Err())
			return nil
		case <-standbyTicker.C:
			if time.Now().After(nextStandbyMessageDeadline) {
				p.logger.Debugf("sending standby status message")
				err = pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
					WALWritePosition: clientXLogPos,
					WALFlushPosition: p.getAppliedLSN(),
					WALApplyPosition: p.getAppliedLSN(),
					ReplyRequested:   true,
				})
				if err != nil {
					return fmt.Errorf("failed to send standby status message: %w", err)
				}
				nextStandbyMessageDeadline = time.Now().Add(standbyMessageTimeout)
			}
		default:
			receiveCtx, cancel := context.WithTimeout(ctx, time.Second*5)
			rawMsg, err := conn.ReceiveMessage(receiveCtx)
			cancel()
			if err != nil {
				if pgconn.Timeout(err) {
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to receive message: %w", err)
			}

			switch msg := rawMsg.(type) {
			case *pgproto3.ErrorResponse:
				return fmt.Errorf("error response received: %v", msg.Message)
			case *pgproto3.ReadyForQuery:
				p.logger.Debugf("ready for query: %v", msg.TxStatus)
			case *pgproto3.CopyData:
				switch msg.Data[0] {
				case pglogrepl.PrimaryKeepaliveMessageByteID:
					pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
					if err != nil {
						return fmt.Errorf("failed to parse keepalive message: %w", err)
					}
					p.logger.Debugf("primary keepalive message: %v", pkm)
					if pkm.ServerWALEnd > clientXLogPos {
						clientXLogPos = pkm.ServerWALEnd
					}
					if pkm.ReplyRequested {
						nextStandbyMessageDeadline = time.Time{}
					}

				case pglogrepl.XLogDataByteID:
					xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
					if err != nil {
						return fmt.Errorf("failed to parse xlog data: %w", err)
					}
					// decode errors indicate a protocol bug; stop loudly
					// rather than guess (slot keeps position)
					if err := decoder.Process(ctx, xld); err != nil {
						return fmt.Errorf("fatal decode error: %w", err)
					}

					if xld.WALStart > clientXLogPos {
						clientXLogPos = xld.WALStart
					}
				default:
					p.logger.Debugf("received unknown copy data")
				}
			default:
				p.logger.Debugf("received unknown msg type: %T", msg)
			}
		}
	}
}

// Err implements Capturer.
func (p *PostgresCapturer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termErr
}

func (p *PostgresCapturer) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.termErr = err
}

// Checkpoint implements Capturer.
func (p *PostgresCapturer) Checkpoint(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return "", fmt.Errorf("capturer not running")
	}

	slot, err := pgrepl.GetReplicationSlot(ctx, p.conn, p.cfg.SlotName)
	if err != nil {
		return "", fmt.Errorf("failed to get replication slot: %w", err)
	}
	return slot.ConfirmedFlushLSN.String(), nil
}

// ACK implements Capturer. The acknowledged position is reported as
// flushed/applied on the next standby status update, only after the
// driver confirmed downstream handling.
func (p *PostgresCapturer) ACK(ctx context.Context, position string) error {
	lsn, err := pglogrepl.ParseLSN(position)
	if err != nil {
		return fmt.Errorf("failed to parse checkpoint: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if lsn != p.appliedLSN {
		p.appliedLSN = lsn
		p.logger.Debugf("ACK: %s", lsn.String())
	}

	return nil
}

func (p *PostgresCapturer) getAppliedLSN() pglogrepl.LSN {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appliedLSN
}

func (p *PostgresCapturer) confirmedLSN(ctx context.Context) pglogrepl.LSN {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := pgrepl.GetReplicationSlot(ctx, p.conn, p.cfg.SlotName)
	if err != nil {
		p.logger.Warnf("failed to read slot position, starting from server default: %v", err)
		return 0
	}
	return slot.ConfirmedFlushLSN
}

func (p *PostgresCapturer) init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			p.logger.Errorf("failed to initialize: %v", err)
			if err := p.cleanUp(context.Background()); err != nil {
				p.logger.Errorf("failed to clean up: %v", err)
			}
		}
	}()

	if err := p.createConn(ctx); err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	if err := p.createPublication(ctx); err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}
	if err := p.createReplicationSlot(ctx); err != nil {
		return fmt.Errorf("failed to create replication slot: %w", err)
	}
	return nil
}

func (p *PostgresCapturer) cleanUp(ctx context.Context) error {
	var errs []error

	if p.pubCreated && p.cfg.DropPublicationOnStop {
		if err := pgrepl.DropPublication(ctx, p.conn, p.cfg.PublicationName); err != nil {
			errs = append(errs, err)
		}
	}
	if p.slotCreated && p.cfg.DropSlotOnStop {
		if err := pgrepl.DropReplicationSlot(ctx, p.conn, p.cfg.SlotName); err != nil {
			errs = append(errs, err)
		}
	}

	if p.conn != nil {
		if err := p.conn.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("failed to clean up: %v", errs)
}

func (p *PostgresCapturer) buildConnConfig() (*pgconn.Config, error) {
	if len(p.cfg.Database.Hosts) == 0 {
		return nil, fmt.Errorf("no database hosts provided")
	}

	connString := "host=" + p.cfg.Database.Hosts[0] + " "
	for k, v := range map[string]string{
		"user":     p.cfg.Database.Username,
		"password": p.cfg.Database.Password,
		"dbname":   p.cfg.Database.Database,
		"port":     fmt.Sprintf("%d", p.cfg.Database.Port),
	} {
		if strings.TrimSpace(v) != "" {
			connString += k + "=" + v + " "
		}
	}
	cfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	for _, host := range p.cfg.Database.Hosts[1:] {
		cfg.Fallbacks = append(cfg.Fallbacks, &pgconn.FallbackConfig{
			Host: host,
			Port: p.cfg.Database.Port,
		})
	}
	cfg.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		p.logger.Warnf("database notice: %s", notice.Message)
	}

	return cfg, nil
}

func (p *PostgresCapturer) createConn(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		p.logger.Infof("connection already established")
		return nil
	}

	cfg, err := p.buildConnConfig()
	if err != nil {
		return fmt.Errorf("failed to build connection config: %w", err)
	}

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p.conn = conn
	return nil
}

func (p *PostgresCapturer) getReplicationConn(ctx context.Context) (*pgconn.PgConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := p.buildConnConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection config: %w", err)
	}
	cfg.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return conn, nil
}

func (p *PostgresCapturer) createPublication(ctx context.Context) error {
	exists, err := pgrepl.CheckPublicationExists(ctx, p.conn, p.cfg.PublicationName)
	if err != nil {
		return fmt.Errorf("failed to check if publication exists: %w", err)
	}

	if exists {
		p.logger.Infof("publication already exists: %s", p.cfg.PublicationName)
		return nil
	}

	if !p.cfg.CreatePubIfMissing {
		return fmt.Errorf("publication %s does not exist", p.cfg.PublicationName)
	}

	err = pgrepl.CreatePublication(ctx, p.conn, pgrepl.PublicationParams{
		Name:   p.cfg.PublicationName,
		Tables: p.cfg.Tables,
	})
	if err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}

	p.logger.Infof("publication created: %s", p.cfg.PublicationName)
	p.pubCreated = true
	return nil
}

func (p *PostgresCapturer) createReplicationSlot(ctx context.Context) error {
	exists, err := pgrepl.CheckReplicationSlotExists(ctx, p.conn, p.cfg.SlotName)
	if err != nil {
		return fmt.Errorf("failed to check if replication slot exists: %w", err)
	}

	if exists {
		p.logger.Infof("replication slot already exists: %s", p.cfg.SlotName)
		return nil
	}

	if !p.cfg.CreateSlotIfMissing {
		return fmt.Errorf("replication slot %s does not exist", p.cfg.SlotName)
	}

	result, err := pgrepl.CreateLogicalReplicationSlot(ctx, p.conn, p.cfg.SlotName, pgrepl.CreateReplicationSlotOptions{
		OutputPlugin: outputPlugin,
	})
	if err != nil {
		return fmt.Errorf("failed to create replication slot: %w", err)
	}

	p.logger.Infof("replication slot created: %s at %s", result.Name, result.LSN)
	p.slotCreated = true
	return nil
}
