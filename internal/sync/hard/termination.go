package hard

import (
	"github.com/fpmas-go/fpmas/internal/comm"
)

// Terminator runs the Dijkstra-Scholten-style four-color termination round
// of spec §4.8: rank 0 circulates a token through the ring 0 -> size-1 ->
// size-2 -> ... -> 1 -> 0, painting it BLACK if it passes through any rank
// that has sent an RPC since its color was last reset. A WHITE token
// returning to a WHITE root means no rank has outstanding hard-sync work;
// the root then broadcasts END and every rank toggles its epoch.
type Terminator[T any] struct {
	rank       int
	size       int
	comm       comm.Communicator
	epoch      *EpochState
	color      *ColorState
	serverPack *ServerPack[T]
}

func newTerminator[T any](rank, size int, c comm.Communicator, epoch *EpochState, color *ColorState, sp *ServerPack[T]) *Terminator[T] {
	return &Terminator[T]{rank: rank, size: size, comm: c, epoch: epoch, color: color, serverPack: sp}
}

// Run executes rounds until termination is detected, returning the number
// of token rounds rank 0 initiated (always 0 on every non-root rank, and on
// rank 0 when size == 1).
func (tm *Terminator[T]) Run() (int, error) {
	if tm.size == 1 {
		tm.epoch.Toggle()
		return 0, nil
	}
	if tm.rank == 0 {
		return tm.runRoot()
	}
	return 0, tm.runNonRoot()
}

func (tm *Terminator[T]) runRoot() (int, error) {
	rounds := 0
	if err := tm.sendToken(tm.size-1, White); err != nil {
		return rounds, err
	}
	for {
		if tok, ok, err := tm.tryRecvToken(1); err != nil {
			return rounds, err
		} else if ok {
			rounds++
			if tok == White && tm.color.Get() == White {
				return rounds, tm.broadcastEnd()
			}
			tm.color.Reset()
			if err := tm.sendToken(tm.size-1, White); err != nil {
				return rounds, err
			}
			continue
		}
		if handled, err := tm.serverPack.PollOnce(); err != nil {
			return rounds, err
		} else if !handled {
			yield()
		}
	}
}

func (tm *Terminator[T]) runNonRoot() error {
	from := tm.rank + 1
	if tm.rank == tm.size-1 {
		from = 0
	}
	to := tm.rank - 1
	for {
		if done, err := tm.checkEnd(); err != nil {
			return err
		} else if done {
			return nil
		}
		if tok, ok, err := tm.tryRecvToken(from); err != nil {
			return err
		} else if ok {
			out := tok
			if tm.color.Get() == Black {
				out = Black
			}
			if err := tm.sendToken(to, out); err != nil {
				return err
			}
			tm.color.Reset()
			continue
		}
		if handled, err := tm.serverPack.PollOnce(); err != nil {
			return err
		} else if !handled {
			yield()
		}
	}
}

func (tm *Terminator[T]) sendToken(dest int, c Color) error {
	return tm.comm.Send(dest, tagToken, []byte{byte(c)})
}

func (tm *Terminator[T]) tryRecvToken(from int) (Color, bool, error) {
	if _, ok, err := tm.comm.IProbe(from, tagToken); err != nil {
		return White, false, err
	} else if !ok {
		return White, false, nil
	}
	data, _, err := tm.comm.Recv(from, tagToken)
	if err != nil {
		return White, false, err
	}
	if len(data) == 0 {
		return White, true, nil
	}
	return Color(data[0]), true, nil
}

func (tm *Terminator[T]) checkEnd() (bool, error) {
	if _, ok, err := tm.comm.IProbe(0, tagTokenEnd); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	if _, _, err := tm.comm.Recv(0, tagTokenEnd); err != nil {
		return false, err
	}
	tm.epoch.Toggle()
	return true, nil
}

func (tm *Terminator[T]) broadcastEnd() error {
	for r := 0; r < tm.size; r++ {
		if r == tm.rank {
			continue
		}
		if err := tm.comm.Send(r, tagTokenEnd, nil); err != nil {
			return err
		}
	}
	tm.epoch.Toggle()
	return nil
}
