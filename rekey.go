package pagecodec

// Rekey protocol. Changing (or removing, or first installing) a key keeps
// the old read cipher alive while a new write cipher takes over main-file
// writes; the host rewrites every page, usually via VACUUM when the
// reserved byte count changes width. The connection exposes the protocol as
// a RekeyOperation: Begin, host-driven page rewriting, then Commit or
// Rollback.

// RekeyOperation tracks one in-flight key change on an attached database.
type RekeyOperation struct {
	conn    *Connection
	dbIndex int
	codec   *Codec
	created bool
	done    bool

	// NeedVacuum reports that the reserved byte count changes width, so the
	// host must run its vacuum-for-rekey path instead of rewriting pages in
	// place. While the operation is open the codec's ReadReserved and
	// WriteReserved fields expose both widths.
	NeedVacuum bool

	// WriteReserved is the reserve the database will have after commit.
	WriteReserved int
}

// RekeyBegin starts a key change on the database at dbIndex.
// currentReserved is the reserve the pager currently maintains for the
// file. A nil or empty key on an encrypted database begins write-decryption
// (the file becomes plaintext); on an unencrypted database it is a no-op
// and returns nil.
func (conn *Connection) RekeyBegin(dbIndex int, key []byte, currentPageSize, currentReserved int) (*RekeyOperation, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	codec := conn.codecs[dbIndex]
	encrypted := codec != nil && codec.IsEncrypted()

	if len(key) == 0 && !encrypted {
		return nil, nil
	}

	op := &RekeyOperation{conn: conn, dbIndex: dbIndex}

	switch {
	case !encrypted:
		// Plaintext database, key given: encrypt it.
		if codec == nil {
			dbName := conn.dbNames[dbIndex]
			codec = newCodec(dbName, conn.paramsFor(dbName))
			op.created = true
		}
		if err := codec.SetupWriteCipher("", key); err != nil {
			if op.created {
				codec.Free()
			}
			return nil, err
		}
		if ps := codec.WriteCipherPageSize(); ps > 0 && ps != currentPageSize {
			codec.restoreWriteCipher()
			if op.created {
				codec.Free()
			}
			return nil, &ValidationError{Param: "page_size", Value: currentPageSize,
				Message: "page size cannot change on an existing database"}
		}
		codec.dropReadCipher()
		if op.created {
			conn.codecs[dbIndex] = codec
		}
		op.WriteReserved = codec.WriteCipherReserved()

	case len(key) == 0:
		// Encrypted database, no key: decrypt it. Reads keep the old
		// cipher; writes pass through.
		if codec.writeCipher != nil {
			codec.writeCipher.Free()
			codec.writeCipher = nil
		}
		op.WriteReserved = 0

	default:
		// Encrypted database, new key: re-encrypt.
		if err := codec.SetupWriteCipher("", key); err != nil {
			return nil, err
		}
		if ps := codec.WriteCipherPageSize(); ps > 0 && ps != currentPageSize {
			codec.restoreWriteCipher()
			return nil, &ValidationError{Param: "page_size", Value: currentPageSize,
				Message: "page size cannot change on an existing database"}
		}
		op.WriteReserved = codec.WriteCipherReserved()
	}

	codec.clearKeySalt()
	op.codec = codec
	op.NeedVacuum = op.WriteReserved != currentReserved
	codec.setReadReserved(currentReserved)
	codec.setWriteReserved(op.WriteReserved)
	codec.pageSize = currentPageSize
	codec.ensureScratch()
	logger().Debug().
		Stringer("codec", codec.id).
		Int("read_reserved", currentReserved).
		Int("write_reserved", op.WriteReserved).
		Bool("vacuum", op.NeedVacuum).
		Msg("rekey started")
	return op, nil
}

// Codec returns the codec carrying the dual cipher state for the rewrite.
func (op *RekeyOperation) Codec() *Codec { return op.codec }

// Commit finishes the rekey after every page was rewritten: the write
// cipher becomes the read cipher (or, for write-decryption, the codec is
// deactivated and removed).
func (op *RekeyOperation) Commit() {
	if op.done {
		return
	}
	op.done = true
	op.conn.mu.Lock()
	defer op.conn.mu.Unlock()

	codec := op.codec
	if codec.HasWriteCipher() {
		codec.promoteWriteCipher()
	} else {
		codec.deactivate()
	}
	op.finishLocked(codec)
}

// Rollback reverts a failed rekey: the write cipher is restored from the
// read cipher so the database keeps its original key.
func (op *RekeyOperation) Rollback() {
	if op.done {
		return
	}
	op.done = true
	op.conn.mu.Lock()
	defer op.conn.mu.Unlock()

	codec := op.codec
	if codec.HasReadCipher() {
		codec.restoreWriteCipher()
	} else {
		codec.deactivate()
	}
	op.finishLocked(codec)
}

func (op *RekeyOperation) finishLocked(codec *Codec) {
	codec.setReadReserved(reservedUnset)
	codec.setWriteReserved(reservedUnset)
	codec.reserved = codec.WriteCipherReserved()
	if !codec.IsEncrypted() {
		codec.Free()
		delete(op.conn.codecs, op.dbIndex)
	}
	logger().Debug().Stringer("codec", codec.id).Bool("encrypted", codec.IsEncrypted()).Msg("rekey finished")
}
