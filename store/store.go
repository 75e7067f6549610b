package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

// Store is the buntdb-backed implementation of the persistent-store
// contract described in spec §6.2. Every public method is a single
// buntdb transaction, read-only where possible.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if necessary) a buntdb database at path. Passing
// ":memory:" gives a purely in-memory store, useful for tests.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying datastore.
func (s *Store) Close() error { return s.db.Close() }

// --- key helpers -----------------------------------------------------

func userKey(id int64) string        { return fmt.Sprintf("user:%d", id) }
func userNameKey(name string) string { return "user_name:" + strings.ToLower(name) }
func userEmailKey(email string) string { return "user_email:" + strings.ToLower(email) }
func loginKey(userID int64, seq int64) string { return fmt.Sprintf("login:%d:%020d", userID, seq) }
func renameKey(userID int64, seq int64) string { return fmt.Sprintf("rename:%d:%020d", userID, seq) }
func ignoreKey(userID, ignoredID int64) string { return fmt.Sprintf("ignore:%d:%d", userID, ignoredID) }
func friendKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("friend:%d:%d", a, b)
}
func friendReqKey(userID, friendID int64) string { return fmt.Sprintf("friendreq:%d:%d", userID, friendID) }
func bridgeKey(location, externalID string) string { return fmt.Sprintf("bridge:%s:%s", location, externalID) }
func verificationKey(userID int64, reason string) string { return fmt.Sprintf("verify:%d:%s", userID, reason) }
func channelKey(id int64) string        { return fmt.Sprintf("channel:%d", id) }
func channelNameKey(name string) string { return "channel_name:" + strings.ToLower(name) }
func channelOpKey(chanID, userID int64) string { return fmt.Sprintf("chanop:%d:%d", chanID, userID) }
func channelBanKey(chanID, userID int64) string { return fmt.Sprintf("chanban:%d:%d", chanID, userID) }
func channelMuteKey(chanID, userID int64) string { return fmt.Sprintf("chanmute:%d:%d", chanID, userID) }
func channelForwardKey(fromID, toID int64) string { return fmt.Sprintf("chanfwd:%d:%d", fromID, toID) }
func channelMsgKey(chanID, seq int64) string { return fmt.Sprintf("chanmsg:%d:%020d", chanID, seq) }
func banKey(id int64) string { return fmt.Sprintf("ban:%d", id) }
func blacklistDomainKey(domain string) string { return "blacklist_domain:" + strings.ToLower(domain) }

const seqKeyPrefix = "seq:"

func (s *Store) nextSeq(tx *buntdb.Tx, name string) (int64, error) {
	key := seqKeyPrefix + name
	v, err := tx.Get(key)
	var n int64
	if err == nil {
		n, _ = strconv.ParseInt(v, 10, 64)
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}
	n++
	if _, _, err := tx.Set(key, strconv.FormatInt(n, 10), nil); err != nil {
		return 0, err
	}
	return n, nil
}

func encode(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// --- users -------------------------------------------------------------

// FindUserByID returns the user with the given id.
func (s *Store) FindUserByID(id int64) (u User, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(userKey(id))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return ErrNotFound{"user"}
			}
			return e
		}
		return json.Unmarshal([]byte(v), &u)
	})
	return
}

// FindUserByUsername looks a user up by exact username (case-insensitive
// collision, case-sensitive identity — the stored key is casefolded but
// the row itself preserves the original case).
func (s *Store) FindUserByUsername(username string) (u User, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		idStr, e := tx.Get(userNameKey(username))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return ErrNotFound{"user"}
			}
			return e
		}
		id, _ := strconv.ParseInt(idStr, 10, 64)
		v, e := tx.Get(userKey(id))
		if e != nil {
			return e
		}
		return json.Unmarshal([]byte(v), &u)
	})
	return
}

// FindUserByEmail looks a user up by email address.
func (s *Store) FindUserByEmail(email string) (u User, err error) {
	if email == "" {
		return User{}, ErrNotFound{"user"}
	}
	err = s.db.View(func(tx *buntdb.Tx) error {
		idStr, e := tx.Get(userEmailKey(email))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return ErrNotFound{"user"}
			}
			return e
		}
		id, _ := strconv.ParseInt(idStr, 10, 64)
		v, e := tx.Get(userKey(id))
		if e != nil {
			return e
		}
		return json.Unmarshal([]byte(v), &u)
	})
	return
}

// CheckUsernameAvailable reports whether username is free to register.
func (s *Store) CheckUsernameAvailable(username string) (bool, error) {
	_, err := s.FindUserByUsername(username)
	if err == nil {
		return false, nil
	}
	if _, ok := err.(ErrNotFound); ok {
		return true, nil
	}
	return false, err
}

// RegisterUser creates a new account, failing with ErrConflict if the
// username or (non-empty) email is already taken.
func (s *Store) RegisterUser(username, passwordHash, ip, email string) (User, error) {
	var created User
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, e := tx.Get(userNameKey(username)); e == nil {
			return ErrConflict{"username"}
		} else if e != buntdb.ErrNotFound {
			return e
		}
		if email != "" {
			if _, e := tx.Get(userEmailKey(email)); e == nil {
				return ErrConflict{"email"}
			} else if e != buntdb.ErrNotFound {
				return e
			}
		}
		id, e := s.nextSeq(tx, "user")
		if e != nil {
			return e
		}
		now := time.Now().UTC()
		created = User{
			ID:           id,
			Username:     username,
			PasswordHash: passwordHash,
			Email:        email,
			Access:       AccessAgreement,
			LastLogin:    now,
			LastIP:       ip,
			RegisterDate: now,
		}
		enc, e := encode(created)
		if e != nil {
			return e
		}
		if _, _, e := tx.Set(userKey(id), enc, nil); e != nil {
			return e
		}
		if _, _, e := tx.Set(userNameKey(username), strconv.FormatInt(id, 10), nil); e != nil {
			return e
		}
		if email != "" {
			if _, _, e := tx.Set(userEmailKey(email), strconv.FormatInt(id, 10), nil); e != nil {
				return e
			}
		}
		return nil
	})
	return created, err
}

// SaveUser persists the full user row (used after in-memory mutations
// such as access-level changes or profile updates).
func (s *Store) SaveUser(u User) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(u)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(userKey(u.ID), enc, nil)
		return err
	})
}

// RenameUser changes a user's username, recording the old one in the
// renames history.
func (s *Store) RenameUser(userID int64, newName string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, e := tx.Get(userNameKey(newName)); e == nil {
			return ErrConflict{"username"}
		} else if e != buntdb.ErrNotFound {
			return e
		}
		v, e := tx.Get(userKey(userID))
		if e != nil {
			return ErrNotFound{"user"}
		}
		var u User
		if e := json.Unmarshal([]byte(v), &u); e != nil {
			return e
		}
		old := u.Username
		u.Username = newName
		enc, e := encode(u)
		if e != nil {
			return e
		}
		if _, _, e := tx.Set(userKey(userID), enc, nil); e != nil {
			return e
		}
		tx.Delete(userNameKey(old))
		if _, _, e := tx.Set(userNameKey(newName), strconv.FormatInt(userID, 10), nil); e != nil {
			return e
		}
		seq, e := s.nextSeq(tx, fmt.Sprintf("rename:%d", userID))
		if e != nil {
			return e
		}
		renEnc, e := encode(Rename{UserID: userID, Original: old, Time: time.Now().UTC()})
		if e != nil {
			return e
		}
		_, _, e = tx.Set(renameKey(userID, seq), renEnc, nil)
		return e
	})
}

// SetPassword updates a user's password hash.
func (s *Store) SetPassword(userID int64, passwordHash string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		v, e := tx.Get(userKey(userID))
		if e != nil {
			return ErrNotFound{"user"}
		}
		var u User
		if e := json.Unmarshal([]byte(v), &u); e != nil {
			return e
		}
		u.PasswordHash = passwordHash
		enc, e := encode(u)
		if e != nil {
			return e
		}
		_, _, e = tx.Set(userKey(userID), enc, nil)
		return e
	})
}

// LoginUser appends a login-history row and updates the user's last-login
// fields.
func (s *Store) LoginUser(userID int64, login Login) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		v, e := tx.Get(userKey(userID))
		if e != nil {
			return ErrNotFound{"user"}
		}
		var u User
		if e := json.Unmarshal([]byte(v), &u); e != nil {
			return e
		}
		u.LastLogin = login.Time
		u.LastIP = login.IPAddress
		u.LastAgent = login.Agent
		u.LastSysID = login.SysID
		u.LastMacID = login.MacID
		enc, e := encode(u)
		if e != nil {
			return e
		}
		if _, _, e := tx.Set(userKey(userID), enc, nil); e != nil {
			return e
		}
		seq, e := s.nextSeq(tx, fmt.Sprintf("login:%d", userID))
		if e != nil {
			return e
		}
		loginEnc, e := encode(login)
		if e != nil {
			return e
		}
		_, _, e = tx.Set(loginKey(userID, seq), loginEnc, nil)
		return e
	})
}

// EndSession marks the currently-open login session's end time. Since
// logins are append-only here, this is a best-effort no-op recording
// hook kept for interface parity with the original contract; callers
// that need analytics should consult the login history directly.
func (s *Store) EndSession(userID int64) error {
	return nil
}

// --- server bans ---------------------------------------------------------

// CheckServerBan reports the first matching, still-active ban for any of
// the given identifiers. An empty string skips that criterion.
func (s *Store) CheckServerBan(userID int64, ip, email string) (ban Ban, found bool, err error) {
	now := time.Now().UTC()
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("ban:*", func(key, value string) bool {
			var b Ban
			if json.Unmarshal([]byte(value), &b) != nil {
				return true
			}
			if !b.EndDate.IsZero() && b.EndDate.Before(now) {
				return true
			}
			if (userID != 0 && b.UserID == userID) ||
				(ip != "" && b.IP == ip) ||
				(email != "" && b.Email != "" && strings.EqualFold(b.Email, email)) {
				ban = b
				found = true
				return false
			}
			return true
		})
	})
	return
}

// AddBan creates a new server ban.
func (s *Store) AddBan(b Ban) (Ban, error) {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		id, e := s.nextSeq(tx, "ban")
		if e != nil {
			return e
		}
		b.ID = id
		enc, e := encode(b)
		if e != nil {
			return e
		}
		_, _, e = tx.Set(banKey(id), enc, nil)
		return e
	})
	return b, err
}

// RemoveBan deletes a server ban by id.
func (s *Store) RemoveBan(id int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, e := tx.Delete(banKey(id))
		if e == buntdb.ErrNotFound {
			return ErrNotFound{"ban"}
		}
		return e
	})
}

// ListBans returns every currently-stored server ban.
func (s *Store) ListBans() (bans []Ban, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("ban:*", func(key, value string) bool {
			var b Ban
			if json.Unmarshal([]byte(value), &b) == nil {
				bans = append(bans, b)
			}
			return true
		})
	})
	return
}

// --- channels --------------------------------------------------------

// GetChannel returns registered channel metadata by name, if registered.
func (s *Store) GetChannel(name string) (ch Channel, found bool, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		idStr, e := tx.Get(channelNameKey(name))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return nil
			}
			return e
		}
		id, _ := strconv.ParseInt(idStr, 10, 64)
		v, e := tx.Get(channelKey(id))
		if e != nil {
			return e
		}
		if e := json.Unmarshal([]byte(v), &ch); e != nil {
			return e
		}
		found = true
		return nil
	})
	return
}

// GetChannelByID returns registered channel metadata by its store ID.
func (s *Store) GetChannelByID(id int64) (ch Channel, found bool, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(channelKey(id))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return nil
			}
			return e
		}
		if e := json.Unmarshal([]byte(v), &ch); e != nil {
			return e
		}
		found = true
		return nil
	})
	return
}

// RegisterChannel creates or re-founds a channel's persisted metadata.
func (s *Store) RegisterChannel(name string, ownerUserID int64) (Channel, error) {
	var ch Channel
	err := s.db.Update(func(tx *buntdb.Tx) error {
		idStr, e := tx.Get(channelNameKey(name))
		var id int64
		if e == nil {
			id, _ = strconv.ParseInt(idStr, 10, 64)
			v, e2 := tx.Get(channelKey(id))
			if e2 != nil {
				return e2
			}
			if e2 := json.Unmarshal([]byte(v), &ch); e2 != nil {
				return e2
			}
		} else if e == buntdb.ErrNotFound {
			id, e = s.nextSeq(tx, "channel")
			if e != nil {
				return e
			}
			ch = Channel{ID: id, Name: name}
		} else {
			return e
		}
		ch.OwnerUserID = ownerUserID
		ch.LastUsed = time.Now().UTC()
		enc, e := encode(ch)
		if e != nil {
			return e
		}
		if _, _, e := tx.Set(channelKey(id), enc, nil); e != nil {
			return e
		}
		_, _, e = tx.Set(channelNameKey(name), strconv.FormatInt(id, 10), nil)
		return e
	})
	return ch, err
}

// UnregisterChannel clears a channel's founder, leaving its id/name intact
// so bans/ops/history attached to it remain addressable.
func (s *Store) UnregisterChannel(name string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		idStr, e := tx.Get(channelNameKey(name))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return ErrNotFound{"channel"}
			}
			return e
		}
		id, _ := strconv.ParseInt(idStr, 10, 64)
		v, e := tx.Get(channelKey(id))
		if e != nil {
			return e
		}
		var ch Channel
		if e := json.Unmarshal([]byte(v), &ch); e != nil {
			return e
		}
		ch.OwnerUserID = 0
		enc, e := encode(ch)
		if e != nil {
			return e
		}
		_, _, e = tx.Set(channelKey(id), enc, nil)
		return e
	})
}

// SaveChannel persists updated channel metadata (topic, key, antispam...).
func (s *Store) SaveChannel(ch Channel) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(ch)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(channelKey(ch.ID), enc, nil); err != nil {
			return err
		}
		_, _, err = tx.Set(channelNameKey(ch.Name), strconv.FormatInt(ch.ID, 10), nil)
		return err
	})
}

// ListRegisteredChannels returns every channel that has a founder.
func (s *Store) ListRegisteredChannels() (chans []Channel, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("channel:*", func(key, value string) bool {
			var ch Channel
			if json.Unmarshal([]byte(value), &ch) == nil && ch.OwnerUserID != 0 {
				chans = append(chans, ch)
			}
			return true
		})
	})
	return
}

// AddChannelOp grants a user operator status in a persisted channel.
func (s *Store) AddChannelOp(chanID, userID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(ChannelOp{ChannelID: chanID, UserID: userID})
		if err != nil {
			return err
		}
		_, _, err = tx.Set(channelOpKey(chanID, userID), enc, nil)
		return err
	})
}

// RemoveChannelOp revokes operator status.
func (s *Store) RemoveChannelOp(chanID, userID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(channelOpKey(chanID, userID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// ListChannelOps returns the persisted operator set of a channel.
func (s *Store) ListChannelOps(chanID int64) (ids []int64, err error) {
	prefix := fmt.Sprintf("chanop:%d:", chanID)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var op ChannelOp
			if json.Unmarshal([]byte(value), &op) == nil {
				ids = append(ids, op.UserID)
			}
			return true
		})
	})
	return
}

// AddChannelBan persists a per-channel ban.
func (s *Store) AddChannelBan(b ChannelBan) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(b)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(channelBanKey(b.ChannelID, b.UserID), enc, nil)
		return err
	})
}

// RemoveChannelBan lifts a per-channel ban.
func (s *Store) RemoveChannelBan(chanID, userID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(channelBanKey(chanID, userID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// IsChannelBanned reports whether userID is banned (and still within its
// expiry window, if any) from chanID.
func (s *Store) IsChannelBanned(chanID, userID int64) (ban ChannelBan, banned bool, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(channelBanKey(chanID, userID))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return nil
			}
			return e
		}
		if e := json.Unmarshal([]byte(v), &ban); e != nil {
			return e
		}
		if !ban.Expires.IsZero() && ban.Expires.Before(time.Now().UTC()) {
			return nil
		}
		banned = true
		return nil
	})
	return
}

// AddChannelMute persists a per-channel mute.
func (s *Store) AddChannelMute(m ChannelMute) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(m)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(channelMuteKey(m.ChannelID, m.UserID), enc, nil)
		return err
	})
}

// RemoveChannelMute lifts a per-channel mute.
func (s *Store) RemoveChannelMute(chanID, userID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(channelMuteKey(chanID, userID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// ListChannelMutes returns every mute recorded against a channel.
func (s *Store) ListChannelMutes(chanID int64) (mutes []ChannelMute, err error) {
	prefix := fmt.Sprintf("chanmute:%d:", chanID)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var m ChannelMute
			if json.Unmarshal([]byte(value), &m) == nil {
				mutes = append(mutes, m)
			}
			return true
		})
	})
	return
}

// AddChannelForward makes joining fromID also join toID.
func (s *Store) AddChannelForward(fromID, toID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(ChannelForward{ChannelFromID: fromID, ChannelToID: toID})
		if err != nil {
			return err
		}
		_, _, err = tx.Set(channelForwardKey(fromID, toID), enc, nil)
		return err
	})
}

// ListChannelForwards returns the forward targets of fromID.
func (s *Store) ListChannelForwards(fromID int64) (toIDs []int64, err error) {
	prefix := fmt.Sprintf("chanfwd:%d:", fromID)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var f ChannelForward
			if json.Unmarshal([]byte(value), &f) == nil {
				toIDs = append(toIDs, f.ChannelToID)
			}
			return true
		})
	})
	return
}

// AddChannelMessage appends a persisted channel-history row.
func (s *Store) AddChannelMessage(chanID, userID, bridgedID int64, msg string, exMsg bool) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		seq, err := s.nextSeq(tx, fmt.Sprintf("chanmsg:%d", chanID))
		if err != nil {
			return err
		}
		m := ChannelMessage{
			ID:        seq,
			ChannelID: chanID,
			UserID:    userID,
			BridgedID: bridgedID,
			Time:      time.Now().UTC(),
			Message:   msg,
			ExMessage: exMsg,
		}
		enc, err := encode(m)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(channelMsgKey(chanID, seq), enc, nil)
		return err
	})
}

// GetChannelMessages returns messages in chanID with id > afterID.
func (s *Store) GetChannelMessages(chanID, afterID int64) (msgs []ChannelMessage, err error) {
	prefix := fmt.Sprintf("chanmsg:%d:", chanID)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var m ChannelMessage
			if json.Unmarshal([]byte(value), &m) == nil && m.ID > afterID {
				msgs = append(msgs, m)
			}
			return true
		})
	})
	return
}

// --- verifications -----------------------------------------------------

// CreateVerification creates a pending verification/reset code.
func (s *Store) CreateVerification(v Verification) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(v)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(verificationKey(v.UserID, v.Reason), enc, nil)
		return err
	})
}

// GetVerification fetches a pending verification by user and reason.
func (s *Store) GetVerification(userID int64, reason string) (v Verification, found bool, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		val, e := tx.Get(verificationKey(userID, reason))
		if e != nil {
			if e == buntdb.ErrNotFound {
				return nil
			}
			return e
		}
		if e := json.Unmarshal([]byte(val), &v); e != nil {
			return e
		}
		found = true
		return nil
	})
	return
}

// ConsumeVerification deletes a verification row (on success or final
// attempt exhaustion).
func (s *Store) ConsumeVerification(userID int64, reason string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(verificationKey(userID, reason))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// --- bridge --------------------------------------------------------------

// BridgeUser upserts a bridged-identity mapping.
func (s *Store) BridgeUser(location, externalID, externalUsername string) (BridgedUser, error) {
	var bu BridgedUser
	err := s.db.Update(func(tx *buntdb.Tx) error {
		key := bridgeKey(location, externalID)
		if v, e := tx.Get(key); e == nil {
			if e := json.Unmarshal([]byte(v), &bu); e != nil {
				return e
			}
			bu.ExternalUsername = externalUsername
			bu.LastBridged = time.Now().UTC()
		} else if e == buntdb.ErrNotFound {
			id, e2 := s.nextSeq(tx, "bridge")
			if e2 != nil {
				return e2
			}
			bu = BridgedUser{ID: id, Location: location, ExternalID: externalID, ExternalUsername: externalUsername, LastBridged: time.Now().UTC()}
		} else {
			return e
		}
		enc, e := encode(bu)
		if e != nil {
			return e
		}
		_, _, e = tx.Set(key, enc, nil)
		return e
	})
	return bu, err
}

// --- misc global state ---------------------------------------------------

// SetMinSpringVersion records the server-enforced minimum client version.
func (s *Store) SetMinSpringVersion(version string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(MinSpringVersion{Version: version, StartTime: time.Now().UTC()})
		if err != nil {
			return err
		}
		_, _, err = tx.Set("min_spring_version", enc, nil)
		return err
	})
}

// MinSpringVersion returns the current minimum accepted client version.
func (s *Store) MinSpringVersion() (v MinSpringVersion, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		val, e := tx.Get("min_spring_version")
		if e != nil {
			if e == buntdb.ErrNotFound {
				return nil
			}
			return e
		}
		return json.Unmarshal([]byte(val), &v)
	})
	return
}

// BlacklistEmailDomain bars registration with the given email domain.
func (s *Store) BlacklistEmailDomain(d BlacklistedEmailDomain) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(d)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(blacklistDomainKey(d.Domain), enc, nil)
		return err
	})
}

// IsEmailDomainBlacklisted reports whether the email's domain is barred.
func (s *Store) IsEmailDomainBlacklisted(email string) (bool, error) {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return false, nil
	}
	var found bool
	err := s.db.View(func(tx *buntdb.Tx) error {
		_, e := tx.Get(blacklistDomainKey(parts[1]))
		if e == nil {
			found = true
			return nil
		}
		if e == buntdb.ErrNotFound {
			return nil
		}
		return e
	})
	return found, err
}

// --- ignores / friends / friend requests ---------------------------------

// AddIgnore records that userID is ignoring ignoredID.
func (s *Store) AddIgnore(i Ignore) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(i)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(ignoreKey(i.UserID, i.IgnoredUserID), enc, nil)
		return err
	})
}

// RemoveIgnore lifts an ignore.
func (s *Store) RemoveIgnore(userID, ignoredID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(ignoreKey(userID, ignoredID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// ListIgnores returns every account userID currently ignores.
func (s *Store) ListIgnores(userID int64) (ids []int64, err error) {
	prefix := fmt.Sprintf("ignore:%d:", userID)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			var i Ignore
			if json.Unmarshal([]byte(value), &i) == nil {
				ids = append(ids, i.IgnoredUserID)
			}
			return true
		})
	})
	return
}

// AddFriend records a mutual friendship between a and b.
func (s *Store) AddFriend(a, b int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(Friend{FirstUserID: a, SecondUserID: b})
		if err != nil {
			return err
		}
		_, _, err = tx.Set(friendKey(a, b), enc, nil)
		return err
	})
}

// RemoveFriend dissolves a friendship.
func (s *Store) RemoveFriend(a, b int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(friendKey(a, b))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// ListFriends returns every account userID is friends with.
func (s *Store) ListFriends(userID int64) (ids []int64, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("friend:*", func(key, value string) bool {
			var f Friend
			if json.Unmarshal([]byte(value), &f) != nil {
				return true
			}
			if f.FirstUserID == userID {
				ids = append(ids, f.SecondUserID)
			} else if f.SecondUserID == userID {
				ids = append(ids, f.FirstUserID)
			}
			return true
		})
	})
	return
}

// AddFriendRequest records a pending, unidirectional friend invite.
func (s *Store) AddFriendRequest(r FriendRequest) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		enc, err := encode(r)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(friendReqKey(r.UserID, r.FriendUserID), enc, nil)
		return err
	})
}

// RemoveFriendRequest deletes a pending request (accept/decline).
func (s *Store) RemoveFriendRequest(userID, friendID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(friendReqKey(userID, friendID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// ListFriendRequestsFor returns every pending request addressed to userID.
func (s *Store) ListFriendRequestsFor(userID int64) (reqs []FriendRequest, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("friendreq:*", func(key, value string) bool {
			var r FriendRequest
			if json.Unmarshal([]byte(value), &r) == nil && r.FriendUserID == userID {
				reqs = append(reqs, r)
			}
			return true
		})
	})
	return
}

// --- maintenance (§6.2 clean / audit_access) ------------------------------

// CleanOptions configures the daily maintenance sweep's retention windows.
type CleanOptions struct {
	UnverifiedAge    time.Duration // unverified accounts (access=agreement)
	NeverPlayedAge   time.Duration // registered but never played
	VeryOldAge       time.Duration // ancient accounts, regardless of activity
	ChannelHistory   time.Duration
	AuditAccessAfter time.Duration // demote admin/mod/bot idle this long
}

// DefaultCleanOptions mirrors the windows named in spec §6.2.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		UnverifiedAge:    3 * 24 * time.Hour,
		NeverPlayedAge:   28 * 24 * time.Hour,
		VeryOldAge:       5 * 365 * 24 * time.Hour,
		ChannelHistory:   14 * 24 * time.Hour,
		AuditAccessAfter: 365 * 24 * time.Hour,
	}
}

// Clean prunes unverified accounts, never-played stale accounts, very old
// accounts, expired server bans, expired channel mutes, and old channel
// history. It does not prune channel forwards, verifications, or
// channels. It returns the number of user rows removed, for logging.
func (s *Store) Clean(opts CleanOptions) (removedUsers int, err error) {
	now := time.Now().UTC()
	err = s.db.Update(func(tx *buntdb.Tx) error {
		var toDelete []string
		tx.AscendKeys("user:*", func(key, value string) bool {
			var u User
			if json.Unmarshal([]byte(value), &u) != nil {
				return true
			}
			age := now.Sub(u.RegisterDate)
			switch {
			case u.Access == AccessAgreement && age > opts.UnverifiedAge:
				toDelete = append(toDelete, key, userNameKey(u.Username))
			case u.IngameTime == 0 && now.Sub(u.LastLogin) > opts.NeverPlayedAge:
				toDelete = append(toDelete, key, userNameKey(u.Username))
			case age > opts.VeryOldAge:
				toDelete = append(toDelete, key, userNameKey(u.Username))
			}
			return true
		})
		for _, k := range toDelete {
			tx.Delete(k)
		}
		removedUsers = len(toDelete) / 2

		var expiredBans []string
		tx.AscendKeys("ban:*", func(key, value string) bool {
			var b Ban
			if json.Unmarshal([]byte(value), &b) == nil && !b.EndDate.IsZero() && b.EndDate.Before(now) {
				expiredBans = append(expiredBans, key)
			}
			return true
		})
		for _, k := range expiredBans {
			tx.Delete(k)
		}

		var expiredMutes []string
		tx.AscendKeys("chanmute:*", func(key, value string) bool {
			var m ChannelMute
			if json.Unmarshal([]byte(value), &m) == nil && !m.Expires.IsZero() && m.Expires.Before(now) {
				expiredMutes = append(expiredMutes, key)
			}
			return true
		})
		for _, k := range expiredMutes {
			tx.Delete(k)
		}

		cutoff := now.Add(-opts.ChannelHistory)
		var oldMsgs []string
		tx.AscendKeys("chanmsg:*", func(key, value string) bool {
			var m ChannelMessage
			if json.Unmarshal([]byte(value), &m) == nil && m.Time.Before(cutoff) {
				oldMsgs = append(oldMsgs, key)
			}
			return true
		})
		for _, k := range oldMsgs {
			tx.Delete(k)
		}

		return nil
	})
	return
}

// AuditAccess demotes admin/mod/bot users whose privileged access has sat
// unused longer than opts.AuditAccessAfter, returning the usernames
// demoted. Per spec §9 Open Questions, both admins and mods are demoted
// (the original source's behavior is kept as-is, not the distillation's
// guess that only mods are demoted).
func (s *Store) AuditAccess(opts CleanOptions) (demoted []string, err error) {
	now := time.Now().UTC()
	err = s.db.Update(func(tx *buntdb.Tx) error {
		var updates []User
		tx.AscendKeys("user:*", func(key, value string) bool {
			var u User
			if json.Unmarshal([]byte(value), &u) != nil {
				return true
			}
			if (u.Access == AccessAdmin || u.Access == AccessMod || u.BotFlag) &&
				now.Sub(u.LastPrivUsed) > opts.AuditAccessAfter {
				u.Access = AccessUser
				u.BotFlag = false
				updates = append(updates, u)
			}
			return true
		})
		for _, u := range updates {
			enc, e := encode(u)
			if e != nil {
				return e
			}
			if _, _, e := tx.Set(userKey(u.ID), enc, nil); e != nil {
				return e
			}
			demoted = append(demoted, u.Username)
		}
		return nil
	})
	return
}
