package orm

import (
	"context"

	"folio/logging"
)

// TxState 事务状态
type TxState int

const (
	TxInactive TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxInactive:
		return "inactive"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Transaction 会话事务。提交时把会话的全部待提交变更在一个存储事务内写入。
type Transaction struct {
	session *Session
	state   TxState
	seq     int // 会话内的事务序号，写入提交期间的日志
}

// Begin 开启事务；会话已有活动事务时返回 TransactionError
func (s *Session) Begin() (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx != nil && s.tx.IsActive() {
		return nil, transactionError("session %s already has an active transaction", s.id)
	}
	s.txSeq++
	s.tx = &Transaction{session: s, state: TxActive, seq: s.txSeq}
	return s.tx, nil
}

// State 当前状态
func (t *Transaction) State() TxState { return t.state }

// IsActive 是否处于活动状态
func (t *Transaction) IsActive() bool { return t.state == TxActive }

// Commit 写入待提交变更。失败时存储保持不变、事务变为 rolled-back，
// 变更仍留在会话中，由调用方驱逐或重新加载。
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != TxActive {
		return transactionError("cannot commit a %s transaction", t.state)
	}
	s := t.session
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx = logging.ContextWithFields(ctx, logging.Int("tx", t.seq))

	events, err := s.flush(ctx)
	s.tx = nil
	if err != nil {
		t.state = TxRolledBack
		s.logger.Debug(ctx, "transaction commit failed", logging.Error(err))
		return err
	}
	t.state = TxCommitted
	s.logger.Debug(ctx, "transaction committed", logging.Int("changes", len(events)))

	if p := s.factory.publisher; p != nil && len(events) > 0 {
		if err := p.Publish(ctx, events); err != nil {
			s.logger.Warn(ctx, "change events not published", logging.Error(err), logging.Int("count", len(events)))
		}
	}
	return nil
}

// Rollback 丢弃待提交变更：新实体移出会话、取消删除、已修改实体恢复为快照状态
func (t *Transaction) Rollback() error {
	if t.state != TxActive {
		return transactionError("cannot roll back a %s transaction", t.state)
	}
	s := t.session
	t.state = TxRolledBack
	s.tx = nil
	if s.closed {
		return nil
	}
	return s.discard()
}

func (s *Session) discard() error {
	for _, en := range s.entities.ordered() {
		switch en.status {
		case statusNew:
			s.entities.remove(en)
			continue
		case statusRemoved:
			en.status = statusManaged
		}
		en.explicit = false
		if en.snapshot == nil {
			continue
		}
		if diff(en.entity, en.snapshot, takeSnapshot(en)).empty() {
			continue
		}
		if err := restore(en, en.snapshot); err != nil {
			return err
		}
	}
	return nil
}
