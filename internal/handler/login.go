package handler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

type loginStep uint8

const (
	stepName loginStep = iota
	stepLookupWait
	stepPassword
	stepVerifyWait
	stepConfirmNew
	stepNewPassword
	stepConfirmPassword
	stepRace
	stepClass
	stepAnsi
	stepCreateWait
)

const maxPasswordTries = 3

var nameRe = regexp.MustCompile(`^[A-Za-z]{3,16}$`)

type loginState struct {
	step  loginStep
	epoch uint32
	proto string

	name     string
	rec      *persist.Record // existing account being verified
	password string          // chosen password for a new account
	race     string
	class    string
	ansi     bool
	tries    int
}

// LoginFlow walks a fresh connection from name prompt to entering the
// world. Every repository touch and bcrypt comparison runs on the worker
// pool; the flow only reacts to lines and LoginCompleted events, both of
// which arrive on the engine goroutine.
type LoginFlow struct {
	deps     *Deps
	pending  map[sid.ID]*loginState
	epochSeq uint32

	// EnteredWorld fires after a player is attached and announced. The
	// composition root uses it for the location index. Optional.
	EnteredWorld func(p *world.Player)
}

func NewLoginFlow(deps *Deps) *LoginFlow {
	return &LoginFlow{deps: deps, pending: make(map[sid.ID]*loginState)}
}

// Pending reports sessions currently inside the flow.
func (f *LoginFlow) Pending() int { return len(f.pending) }

// Begin starts the flow for a new connection.
func (f *LoginFlow) Begin(ev event.Connected) {
	f.epochSeq++
	f.pending[ev.Sid] = &loginState{
		step:  stepName,
		epoch: f.epochSeq,
		proto: ev.Proto,
		ansi:  ev.Ansi,
	}
	f.deps.Out.LoginScreen(ev.Sid)
	f.deps.Out.Text(ev.Sid, "By what name are you known?")
}

// Forget drops any in-flight state for a session. Worker results that
// arrive afterwards find nothing and are discarded.
func (f *LoginFlow) Forget(id sid.ID) { delete(f.pending, id) }

// Line feeds one input line into the session's current step.
func (f *LoginFlow) Line(id sid.ID, line string) {
	st, ok := f.pending[id]
	if !ok {
		f.deps.Log.Debug("line from unknown session", zap.Stringer("sid", id))
		return
	}
	line = strings.TrimSpace(line)
	switch st.step {
	case stepName:
		f.askedName(id, st, line)
	case stepPassword:
		if line == "" {
			f.deps.Out.Text(id, "Password:")
			return
		}
		st.step = stepVerifyWait
		f.deps.Workers.Verify(id, st.epoch, st.rec, line)
	case stepConfirmNew:
		f.askedConfirmNew(id, st, line)
	case stepNewPassword:
		if len(line) < 6 {
			f.deps.Out.Text(id, "Use at least 6 characters.")
			return
		}
		st.password = line
		st.step = stepConfirmPassword
		f.deps.Out.Text(id, "Retype it to confirm:")
	case stepConfirmPassword:
		if line != st.password {
			st.password = ""
			st.step = stepNewPassword
			f.deps.Out.Text(id, "They don't match. Choose a password:")
			return
		}
		st.step = stepRace
		f.deps.Out.Text(id, "Pick a race: "+f.raceList())
	case stepRace:
		f.askedRace(id, st, line)
	case stepClass:
		f.askedClass(id, st, line)
	case stepAnsi:
		f.askedAnsi(id, st, line)
	case stepLookupWait, stepVerifyWait, stepCreateWait:
		f.deps.Out.Text(id, "One moment...")
	}
}

func (f *LoginFlow) askedName(id sid.ID, st *loginState, line string) {
	if !nameRe.MatchString(line) {
		f.deps.Out.Text(id, "Names are 3 to 16 letters.")
		return
	}
	name := canonicalName(line)
	if f.deps.World.PlayerByName(strings.ToLower(name)) != nil {
		f.deps.Out.Text(id, "That character is already playing.")
		return
	}
	st.name = name
	st.step = stepLookupWait
	f.deps.Workers.Lookup(id, st.epoch, name)
}

func (f *LoginFlow) askedConfirmNew(id sid.ID, st *loginState, line string) {
	switch strings.ToLower(line) {
	case "y", "yes":
		st.step = stepNewPassword
		f.deps.Out.Text(id, "Choose a password:")
	case "n", "no":
		st.name = ""
		st.step = stepName
		f.deps.Out.Text(id, "By what name are you known?")
	default:
		f.deps.Out.Text(id, fmt.Sprintf("Create %s? (y/n)", st.name))
	}
}

func (f *LoginFlow) askedRace(id sid.ID, st *loginState, line string) {
	lower := strings.ToLower(line)
	for _, r := range f.deps.Content.Classes.Races() {
		if strings.HasPrefix(r.Key, lower) && lower != "" {
			st.race = r.Key
			st.step = stepClass
			f.deps.Out.Text(id, "Pick a calling: "+f.classList())
			return
		}
	}
	f.deps.Out.Text(id, "Pick a race: "+f.raceList())
}

func (f *LoginFlow) askedClass(id sid.ID, st *loginState, line string) {
	lower := strings.ToLower(line)
	for _, c := range f.deps.Content.Classes.Classes() {
		if strings.HasPrefix(c.Key, lower) && lower != "" {
			st.class = c.Key
			if st.proto == "websocket" {
				// Browser clients always render color.
				st.ansi = true
				f.createAccount(id, st)
				return
			}
			st.step = stepAnsi
			f.deps.Out.Text(id, "Enable color? (y/n)")
			return
		}
	}
	f.deps.Out.Text(id, "Pick a calling: "+f.classList())
}

func (f *LoginFlow) askedAnsi(id sid.ID, st *loginState, line string) {
	switch strings.ToLower(line) {
	case "y", "yes":
		st.ansi = true
	case "n", "no":
		st.ansi = false
	default:
		f.deps.Out.Text(id, "Enable color? (y/n)")
		return
	}
	f.createAccount(id, st)
}

func (f *LoginFlow) createAccount(id sid.ID, st *loginState) {
	cls := f.deps.Content.Classes.Class(st.class)
	race := f.deps.Content.Classes.Race(st.race)
	stats := cls.Stats.Add(race.Stats)
	rec := &persist.Record{
		Name:    st.name,
		Race:    st.race,
		Class:   st.class,
		Level:   1,
		HP:      cls.BaseHP,
		MaxHP:   cls.BaseHP,
		Mana:    cls.BaseMana,
		MaxMana: cls.BaseMana,
		Str:     stats.Str,
		Dex:     stats.Dex,
		Con:     stats.Con,
		Int:     stats.Int,
		Wis:     stats.Wis,
		Cha:     stats.Cha,
		RoomID:  f.deps.Content.StartRoom,
		Ansi:    st.ansi,
	}
	st.step = stepCreateWait
	f.deps.Workers.Create(id, st.epoch, rec, st.password)
}

// Completed consumes a worker result. Stale epochs (the session restarted
// the flow, or disconnected and the sid was reused) are dropped.
func (f *LoginFlow) Completed(ev event.LoginCompleted) {
	st, ok := f.pending[ev.Sid]
	if !ok || st.epoch != ev.Epoch {
		f.deps.Log.Debug("stale login result",
			zap.Stringer("sid", ev.Sid),
			zap.String("step", ev.Step))
		return
	}
	switch ev.Step {
	case "lookup":
		f.lookupDone(ev.Sid, st, ev)
	case "verify":
		f.verifyDone(ev.Sid, st, ev)
	case "create":
		f.createDone(ev.Sid, st, ev)
	}
}

func (f *LoginFlow) lookupDone(id sid.ID, st *loginState, ev event.LoginCompleted) {
	if errors.Is(ev.Err, persist.ErrNotFound) {
		st.step = stepConfirmNew
		f.deps.Out.Text(id, fmt.Sprintf("No one by that name exists. Create %s? (y/n)", st.name))
		return
	}
	if ev.Err != nil {
		f.deps.Log.Error("account lookup failed", zap.String("name", st.name), zap.Error(ev.Err))
		f.deps.Out.Error(id, "The vault of records is unreachable. Try again soon.")
		st.step = stepName
		f.deps.Out.Text(id, "By what name are you known?")
		return
	}
	st.rec = ev.Data.(*persist.Record)
	st.step = stepPassword
	f.deps.Out.Text(id, "Password:")
}

func (f *LoginFlow) verifyDone(id sid.ID, st *loginState, ev event.LoginCompleted) {
	if ev.Err != nil {
		st.tries++
		if st.tries >= maxPasswordTries {
			f.deps.Out.Error(id, "Too many failures.")
			f.deps.Out.CloseSession(id, "password failures")
			f.Forget(id)
			return
		}
		st.step = stepPassword
		f.deps.Out.Text(id, "Wrong password. Password:")
		return
	}
	f.enterWorld(id, st, st.rec)
}

func (f *LoginFlow) createDone(id sid.ID, st *loginState, ev event.LoginCompleted) {
	if errors.Is(ev.Err, persist.ErrNameTaken) {
		st.name = ""
		st.step = stepName
		f.deps.Out.Text(id, "That name was just taken. By what name are you known?")
		return
	}
	if ev.Err != nil {
		f.deps.Log.Error("account create failed", zap.String("name", st.name), zap.Error(ev.Err))
		f.deps.Out.Error(id, "The vault of records is unreachable. Try again soon.")
		st.step = stepName
		f.deps.Out.Text(id, "By what name are you known?")
		return
	}
	rec := ev.Data.(*persist.Record)
	rec.Ansi = st.ansi
	f.enterWorld(id, st, rec)
}

func (f *LoginFlow) enterWorld(id sid.ID, st *loginState, rec *persist.Record) {
	p := PlayerFromRecord(f.deps, id, rec)
	p.Epoch = st.epoch
	p.Ansi = st.ansi || rec.Ansi
	if err := f.deps.World.AttachExisting(p); err != nil {
		// Someone attached under this name while the worker ran.
		f.deps.World.PurgeSessionItems(id)
		st.name, st.rec = "", nil
		st.step = stepName
		f.deps.Out.Text(id, "That character is already playing.")
		f.deps.Out.Text(id, "By what name are you known?")
		return
	}
	f.Forget(id)

	f.deps.Out.Ansi(id, p.Ansi)
	f.deps.Out.ClearScreen(id)
	for _, line := range f.deps.Content.MOTD {
		f.deps.Out.Text(id, line)
	}
	f.deps.Out.Info(id, fmt.Sprintf("Welcome, %s!", p.Name))
	RoomTextPrompt(f.deps, p.RoomID, fmt.Sprintf("%s enters the world.", p.Name), p.Sid)

	p.VisitedRooms[p.RoomID] = struct{}{}
	f.deps.World.Dirty.PlayerVitals.Mark(id)
	f.deps.World.Dirty.PlayerStatus.Mark(id)
	corevent.Emit(f.deps.Bus, corevent.RoomChanged{Sid: id, From: "", To: p.RoomID})

	f.deps.Log.Info("player entered",
		zap.String("name", p.Name),
		zap.Stringer("sid", id),
		zap.String("room", p.RoomID),
		zap.Int("level", p.Level))
	if f.EnteredWorld != nil {
		f.EnteredWorld(p)
	}
	HandleLook(p, "", f.deps)
}

// PlayerFromRecord builds live state from a stored record: vitals clamped
// to the stored maxima, titles re-derived from unlocked achievements, and
// inventory and equipment respawned from template keys. Unknown template
// keys are dropped with a log line so content renames don't strand logins.
func PlayerFromRecord(deps *Deps, id sid.ID, rec *persist.Record) *world.Player {
	p := world.NewPlayer(id, rec.Name)
	p.ID = rec.ID
	p.Race = rec.Race
	p.Class = rec.Class
	p.Level = rec.Level
	p.BaseMaxHP = rec.MaxHP
	p.MaxHP = rec.MaxHP
	p.HP = clampInt(rec.HP, 1, rec.MaxHP)
	p.MaxMana = rec.MaxMana
	p.Mana = clampInt(rec.Mana, 0, rec.MaxMana)
	p.Str, p.Dex, p.Con = rec.Str, rec.Dex, rec.Con
	p.Int, p.Wis, p.Cha = rec.Int, rec.Wis, rec.Cha
	p.XPTotal = rec.XPTotal
	p.Gold = rec.Gold
	p.IsStaff = rec.IsStaff
	p.Ansi = rec.Ansi
	p.ActiveTitle = rec.ActiveTitle

	p.RoomID = rec.RoomID
	if deps.World.Room(p.RoomID) == nil {
		p.RoomID = deps.Content.StartRoom
	}

	for k, v := range rec.QuestProgress {
		p.QuestProgress[k] = v
	}
	for _, k := range rec.CompletedQuests {
		p.CompletedQuests[k] = struct{}{}
	}
	for k, v := range rec.AchievementCount {
		p.AchievementCount[k] = v
	}
	for _, k := range rec.Unlocked {
		p.Unlocked[k] = struct{}{}
		if a := deps.Content.Achievements.Get(k); a != nil && a.Title != "" {
			p.Titles = append(p.Titles, a.Title)
		}
	}
	for _, r := range rec.VisitedRooms {
		p.VisitedRooms[r] = struct{}{}
	}

	for _, key := range rec.Inventory {
		tpl := deps.Content.Items.Get(key)
		if tpl == nil {
			deps.Log.Warn("stored item template gone", zap.String("item", key), zap.String("player", rec.Name))
			continue
		}
		deps.World.SpawnItem(tpl, world.InvLoc(id))
	}
	for slot, key := range rec.Equipment {
		tpl := deps.Content.Items.Get(key)
		if tpl == nil || tpl.Slot != slot {
			deps.Log.Warn("stored equipment template gone", zap.String("item", key), zap.String("player", rec.Name))
			continue
		}
		deps.World.SpawnItem(tpl, world.EquipLoc(id, slot))
	}
	return p
}

func (f *LoginFlow) raceList() string {
	var keys []string
	for _, r := range f.deps.Content.Classes.Races() {
		keys = append(keys, r.Key)
	}
	return strings.Join(keys, ", ")
}

func (f *LoginFlow) classList() string {
	var keys []string
	for _, c := range f.deps.Content.Classes.Classes() {
		keys = append(keys, c.Key)
	}
	return strings.Join(keys, ", ")
}

func canonicalName(s string) string {
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
