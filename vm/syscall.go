package vm

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"
)

// syscall.go implements the SYS_N_N fixed external-function table of spec
// §4.6/§6.4, index-for-index grounded on
// original_source/source/syscmd.h's SystemCommand enum. Per SPEC_FULL.md's
// DOMAIN STACK decision, the console/string/table/time/file subset is
// implemented for real; every graphics, audio, windowing, joystick, font,
// and image command keeps its numeric slot (so user programs compiled
// against the original's constants still load) but returns
// errExternalUnavailable, except SYS_SCREEN_W/SYS_SCREEN_H (which report 0)
// and SYS_CONSOLE (a no-op), since rasterization/windowing/audio are explicit
// Non-goals reachable only as external collaborators.
const (
	SYS_PLN = iota
	SYS_READ_LINE
	SYS_DATE_TIME
	SYS_TIME
	SYS_CLOCK
	SYS_SLEEP
	SYS_FRAME_SLEEP
	SYS_RND
	SYS_RANDOMIZE
	SYS_SYSTEM
	SYS_CAPTURE
	SYS_SPLIT_STR
	SYS_LEFT_STR
	SYS_RIGHT_STR
	SYS_MID_STR
	SYS_IN_STR
	SYS_REPLACE_STR
	SYS_LOWER_STR
	SYS_UPPER_STR
	SYS_CHR
	SYS_ASC
	SYS_STR
	SYS_TBL_HAS_KEY
	SYS_TBL_HAS_VALUE
	SYS_TBL_KEY_OF
	SYS_TBL_FREE_KEY
	SYS_TBL_FREE_VALUE
	SYS_TBL_CLEAR
	SYS_TBL_INSERT
	SYS_SET_CLIPBOARD
	SYS_GET_CLIPBOARD
	SYS_CREATE_FILE
	SYS_CREATE_FILE_LEGACY
	SYS_OPEN_FILE
	SYS_OPEN_FILE_LEGACY
	SYS_FREE_FILE
	SYS_FILE_EXISTS
	SYS_FILE_WRITE
	SYS_FILE_WRITE_LINE
	SYS_FILE_READ
	SYS_FILE_READ_CHAR
	SYS_FILE_READ_LINE
	SYS_OPEN_FILE_DIALOG
	SYS_SAVE_FILE_DIALOG
	SYS_CHECK_FILE_EXISTS
	SYS_SET_WINDOW
	SYS_SET_REDRAW
	SYS_WIN_ACTIVE
	SYS_WIN_EXISTS
	SYS_SCREEN_W
	SYS_SCREEN_H
	SYS_WIN_REDRAW
	SYS_MOUSE_X
	SYS_MOUSE_Y
	SYS_MOUSE_DOWN
	SYS_SET_MOUSE
	SYS_CREATE_ZONE
	SYS_CREATE_ZONE_LEGACY
	SYS_FREE_ZONE
	SYS_ZONE
	SYS_ZONE_X
	SYS_ZONE_Y
	SYS_ZONE_W
	SYS_ZONE_H
	SYS_INKEY
	SYS_KEY_DOWN
	SYS_SET_IMAGE
	SYS_SET_IMAGE_CLIP_RECT
	SYS_CLEAR_IMAGE_CLIP_RECT
	SYS_SET_COLOR
	SYS_SET_ADDITIVE
	SYS_CLS
	SYS_SET_PIXEL
	SYS_GET_PIXEL
	SYS_DRAW_PIXEL
	SYS_DRAW_LINE
	SYS_DRAW_RECT
	SYS_DRAW_ELLIPSE
	SYS_DRAW_POLYGON
	SYS_DRAW_VRASTER
	SYS_DRAW_HRASTER
	SYS_LOAD_IMAGE
	SYS_LOAD_IMAGE_LEGACY
	SYS_SAVE_IMAGE
	SYS_CREATE_IMAGE
	SYS_CREATE_IMAGE_LEGACY
	SYS_FREE_IMAGE
	SYS_SET_IMAGE_COLOR_KEY
	SYS_SET_IMAGE_GRID
	SYS_IMAGE_EXISTS
	SYS_IMAGE_WIDTH
	SYS_IMAGE_HEIGHT
	SYS_IMAGE_COLS
	SYS_IMAGE_ROWS
	SYS_IMAGE_CELLS
	SYS_DRAW_IMAGE
	SYS_CREATE_FONT
	SYS_CREATE_FONT_LEGACY
	SYS_LOAD_FONT
	SYS_LOAD_FONT_LEGACY
	SYS_SAVE_FONT
	SYS_FREE_FONT
	SYS_SET_FONT
	SYS_FONT_EXISTS
	SYS_FONT_WIDTH
	SYS_FONT_HEIGHT
	SYS_SCROLL
	SYS_WRITE
	SYS_WRITE_LINE
	SYS_CENTER
	SYS_SET_JUSTIFICATION
	SYS_SET_CARET
	SYS_LOAD_SOUND
	SYS_LOAD_SOUND_LEGACY
	SYS_FREE_SOUND
	SYS_SOUND_EXISTS
	SYS_PLAY_SOUND
	SYS_LOAD_MUSIC
	SYS_LOAD_MUSIC_LEGACY
	SYS_FREE_MUSIC
	SYS_MUSIC_EXISTS
	SYS_PLAY_MUSIC
	SYS_STOP_MUSIC
	SYS_SET_MUSIC_VOLUME
	SYS_W3D_RENDER
	SYS_CREATE_SOUND
	SYS_CREATE_SOUND_LEGACY
	SYS_DOWNLOAD
	SYS_CONSOLE
	SYS_DRAW_IMAGE_TRANSFORMED
	SYS_DRAW_POLYGON_IMAGE
	SYS_MOUSE_DX
	SYS_MOUSE_DY
	SYS_GET_PIXEL_INT
	SYS_SET_COLOR_INT
	SYS_DRAW_POLYGON_TRANSFORMED
	SYS_DRAW_POLYGON_IMAGE_TRANSFORMED
	SYS_JOY_X
	SYS_JOY_Y
	SYS_JOY_BUTTON
	SYS_FILE_TELL
	SYS_FILE_SEEK

	sysCmdCount
)

type openFile struct {
	f      *os.File
	reader *bufio.Reader
}

func installSysTable(vm *VM) {
	vm.openFiles = make(map[int]*openFile)
	vm.rng = rand.New(rand.NewSource(1))

	unavailable := func(vm *VM, args []Value) (Value, error) { return Unset(), errExternalUnavailable }
	for i := 0; i < sysCmdCount; i++ {
		vm.sysTable[i] = unavailable
	}

	reg := func(id int, fn SysFunc) { vm.sysTable[id] = fn }

	reg(SYS_PLN, func(vm *VM, args []Value) (Value, error) {
		vm.stdout(argStr(args, 0))
		return Unset(), nil
	})
	reg(SYS_WRITE, func(vm *VM, args []Value) (Value, error) {
		vm.stdout(argStr(args, 0))
		return Unset(), nil
	})
	reg(SYS_WRITE_LINE, func(vm *VM, args []Value) (Value, error) {
		vm.stdout(argStr(args, 0) + "\n")
		return Unset(), nil
	})
	reg(SYS_READ_LINE, func(vm *VM, args []Value) (Value, error) {
		line, _ := vm.stdinReader().ReadString('\n')
		return String(strings.TrimRight(line, "\r\n")), nil
	})
	reg(SYS_DATE_TIME, func(vm *VM, args []Value) (Value, error) {
		return String(time.Now().Format("2006-01-02 15:04:05")), nil
	})
	reg(SYS_TIME, func(vm *VM, args []Value) (Value, error) {
		return Number(float64(time.Now().Unix())), nil
	})
	reg(SYS_CLOCK, func(vm *VM, args []Value) (Value, error) {
		return Number(float64(time.Now().UnixNano()) / 1e9), nil
	})
	reg(SYS_SLEEP, func(vm *VM, args []Value) (Value, error) {
		time.Sleep(time.Duration(argNum(args, 0)) * time.Millisecond)
		return Unset(), nil
	})
	reg(SYS_FRAME_SLEEP, func(vm *VM, args []Value) (Value, error) { return Unset(), nil })
	reg(SYS_RND, func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return Number(vm.rng.Float64()), nil
		}
		n := int64(argNum(args, 0))
		if n <= 0 {
			return Number(0), nil
		}
		return Number(float64(vm.rng.Int63n(n))), nil
	})
	reg(SYS_RANDOMIZE, func(vm *VM, args []Value) (Value, error) {
		vm.rng = rand.New(rand.NewSource(int64(argNum(args, 0))))
		return Unset(), nil
	})
	reg(SYS_SYSTEM, func(vm *VM, args []Value) (Value, error) { return Number(-1), nil })

	reg(SYS_SPLIT_STR, func(vm *VM, args []Value) (Value, error) {
		parts := strings.Split(argStr(args, 0), argStr(args, 1))
		t := vm.alloc.NewTable(len(parts))
		for i, p := range parts {
			t.SetInt(int64(i), String(p))
		}
		return TableValue(t), nil
	})
	reg(SYS_LEFT_STR, func(vm *VM, args []Value) (Value, error) {
		s := argStr(args, 0)
		n := clampIndex(int(argNum(args, 1)), len(s))
		return String(s[:n]), nil
	})
	reg(SYS_RIGHT_STR, func(vm *VM, args []Value) (Value, error) {
		s := argStr(args, 0)
		n := clampIndex(int(argNum(args, 1)), len(s))
		return String(s[len(s)-n:]), nil
	})
	reg(SYS_MID_STR, func(vm *VM, args []Value) (Value, error) {
		s := argStr(args, 0)
		start := clampIndex(int(argNum(args, 1)), len(s))
		n := len(s) - start
		if len(args) > 2 {
			n = clampIndex(int(argNum(args, 2)), len(s)-start)
		}
		return String(s[start : start+n]), nil
	})
	reg(SYS_IN_STR, func(vm *VM, args []Value) (Value, error) {
		idx := strings.Index(argStr(args, 0), argStr(args, 1))
		return Number(float64(idx)), nil
	})
	reg(SYS_REPLACE_STR, func(vm *VM, args []Value) (Value, error) {
		return String(strings.ReplaceAll(argStr(args, 0), argStr(args, 1), argStr(args, 2))), nil
	})
	reg(SYS_LOWER_STR, func(vm *VM, args []Value) (Value, error) {
		return String(strings.ToLower(argStr(args, 0))), nil
	})
	reg(SYS_UPPER_STR, func(vm *VM, args []Value) (Value, error) {
		return String(strings.ToUpper(argStr(args, 0))), nil
	})
	reg(SYS_CHR, func(vm *VM, args []Value) (Value, error) {
		return String(string(rune(int(argNum(args, 0))))), nil
	})
	reg(SYS_ASC, func(vm *VM, args []Value) (Value, error) {
		s := argStr(args, 0)
		if s == "" {
			return Number(0), nil
		}
		return Number(float64([]rune(s)[0])), nil
	})
	reg(SYS_STR, func(vm *VM, args []Value) (Value, error) {
		if len(args) == 0 {
			return String(""), nil
		}
		return String(args[0].ToString()), nil
	})

	reg(SYS_TBL_HAS_KEY, func(vm *VM, args []Value) (Value, error) {
		t, err := argTable(args, 0)
		if err != nil {
			return Unset(), err
		}
		key := args[1]
		var ok bool
		if key.Kind == KindString {
			_, ok = t.Get(key.Str)
		} else {
			_, ok = t.GetInt(int64(key.ToNumber()))
		}
		return Number(boolNum(ok)), nil
	})
	reg(SYS_TBL_HAS_VALUE, func(vm *VM, args []Value) (Value, error) {
		t, err := argTable(args, 0)
		if err != nil {
			return Unset(), err
		}
		for _, e := range t.Entries() {
			if Equal(e.Data.(Value), args[1]) {
				return Number(1), nil
			}
		}
		return Number(0), nil
	})
	reg(SYS_TBL_KEY_OF, func(vm *VM, args []Value) (Value, error) {
		t, err := argTable(args, 0)
		if err != nil {
			return Unset(), err
		}
		for _, e := range t.Entries() {
			if Equal(e.Data.(Value), args[1]) {
				if e.Key.IsString {
					return String(e.Key.Str), nil
				}
				return Number(float64(e.Key.Int)), nil
			}
		}
		return Unset(), nil
	})
	reg(SYS_TBL_FREE_KEY, func(vm *VM, args []Value) (Value, error) {
		t, err := argTable(args, 0)
		if err != nil {
			return Unset(), err
		}
		key := args[1]
		var ok bool
		if key.Kind == KindString {
			ok = t.Delete(key.Str)
		} else {
			ok = t.DeleteInt(int64(key.ToNumber()))
		}
		if !ok && t.Locked() {
			return Unset(), errTableLocked
		}
		return Unset(), nil
	})
	reg(SYS_TBL_CLEAR, func(vm *VM, args []Value) (Value, error) {
		t, err := argTable(args, 0)
		if err != nil {
			return Unset(), err
		}
		if t.Locked() {
			return Unset(), errTableLocked
		}
		for _, e := range t.Entries() {
			if e.Key.IsString {
				t.Delete(e.Key.Str)
			} else {
				t.DeleteInt(e.Key.Int)
			}
		}
		return Unset(), nil
	})
	reg(SYS_TBL_INSERT, func(vm *VM, args []Value) (Value, error) {
		t, err := argTable(args, 0)
		if err != nil {
			return Unset(), err
		}
		t.SetInt(int64(t.Len()), args[1])
		return Unset(), nil
	})

	reg(SYS_SET_CLIPBOARD, func(vm *VM, args []Value) (Value, error) {
		vm.clipboard = argStr(args, 0)
		return Unset(), nil
	})
	reg(SYS_GET_CLIPBOARD, func(vm *VM, args []Value) (Value, error) {
		return String(vm.clipboard), nil
	})

	reg(SYS_CREATE_FILE, sysCreateFile)
	reg(SYS_CREATE_FILE_LEGACY, sysCreateFile)
	reg(SYS_OPEN_FILE, sysOpenFile)
	reg(SYS_OPEN_FILE_LEGACY, sysOpenFile)
	reg(SYS_FREE_FILE, func(vm *VM, args []Value) (Value, error) {
		h := int(argNum(args, 0))
		if of, ok := vm.openFiles[h]; ok {
			of.f.Close()
			delete(vm.openFiles, h)
		}
		return Unset(), nil
	})
	reg(SYS_FILE_EXISTS, func(vm *VM, args []Value) (Value, error) {
		_, err := os.Stat(argStr(args, 0))
		return Number(boolNum(err == nil)), nil
	})
	reg(SYS_CHECK_FILE_EXISTS, func(vm *VM, args []Value) (Value, error) {
		_, err := os.Stat(argStr(args, 0))
		return Number(boolNum(err == nil)), nil
	})
	reg(SYS_FILE_WRITE, func(vm *VM, args []Value) (Value, error) {
		return sysFileWrite(vm, args, false)
	})
	reg(SYS_FILE_WRITE_LINE, func(vm *VM, args []Value) (Value, error) {
		return sysFileWrite(vm, args, true)
	})
	reg(SYS_FILE_READ, func(vm *VM, args []Value) (Value, error) {
		of, err := vm.fileHandle(int(argNum(args, 0)))
		if err != nil {
			return Unset(), err
		}
		line, rerr := of.reader.ReadString('\n')
		if rerr != nil && line == "" {
			return Unset(), nil
		}
		return String(strings.TrimRight(line, "\r\n")), nil
	})
	reg(SYS_FILE_READ_LINE, func(vm *VM, args []Value) (Value, error) {
		of, err := vm.fileHandle(int(argNum(args, 0)))
		if err != nil {
			return Unset(), err
		}
		line, rerr := of.reader.ReadString('\n')
		if rerr != nil && line == "" {
			return Unset(), nil
		}
		return String(strings.TrimRight(line, "\r\n")), nil
	})
	reg(SYS_FILE_READ_CHAR, func(vm *VM, args []Value) (Value, error) {
		of, err := vm.fileHandle(int(argNum(args, 0)))
		if err != nil {
			return Unset(), err
		}
		r, _, rerr := of.reader.ReadRune()
		if rerr != nil {
			return Unset(), nil
		}
		return String(string(r)), nil
	})
	reg(SYS_FILE_TELL, func(vm *VM, args []Value) (Value, error) {
		of, err := vm.fileHandle(int(argNum(args, 0)))
		if err != nil {
			return Unset(), err
		}
		pos, _ := of.f.Seek(0, os.SEEK_CUR)
		return Number(float64(pos)), nil
	})
	reg(SYS_FILE_SEEK, func(vm *VM, args []Value) (Value, error) {
		of, err := vm.fileHandle(int(argNum(args, 0)))
		if err != nil {
			return Unset(), err
		}
		pos, serr := of.f.Seek(int64(argNum(args, 1)), os.SEEK_SET)
		if serr != nil {
			return Unset(), serr
		}
		of.reader = bufio.NewReader(of.f)
		return Number(float64(pos)), nil
	})

	reg(SYS_SCREEN_W, func(vm *VM, args []Value) (Value, error) { return Number(0), nil })
	reg(SYS_SCREEN_H, func(vm *VM, args []Value) (Value, error) { return Number(0), nil })
	reg(SYS_CONSOLE, func(vm *VM, args []Value) (Value, error) { return Unset(), nil })
}

func (vm *VM) stdinReader() *bufio.Reader {
	if vm.stdinBuf == nil {
		vm.stdinBuf = bufio.NewReader(os.Stdin)
	}
	return vm.stdinBuf
}

func (vm *VM) fileHandle(h int) (*openFile, error) {
	of, ok := vm.openFiles[h]
	if !ok {
		return nil, fmt.Errorf("vm: file handle %d not open", h)
	}
	return of, nil
}

func sysCreateFile(vm *VM, args []Value) (Value, error) {
	f, err := os.Create(argStr(args, 0))
	if err != nil {
		return Number(-1), nil
	}
	return vm.registerFile(f), nil
}

func sysOpenFile(vm *VM, args []Value) (Value, error) {
	f, err := os.OpenFile(argStr(args, 0), os.O_RDWR, 0644)
	if err != nil {
		return Number(-1), nil
	}
	return vm.registerFile(f), nil
}

func (vm *VM) registerFile(f *os.File) Value {
	h := vm.nextFileHandle
	vm.nextFileHandle++
	vm.openFiles[h] = &openFile{f: f, reader: bufio.NewReader(f)}
	return Number(float64(h))
}

func sysFileWrite(vm *VM, args []Value, newline bool) (Value, error) {
	of, err := vm.fileHandle(int(argNum(args, 0)))
	if err != nil {
		return Unset(), err
	}
	s := argStr(args, 1)
	if newline {
		s += "\n"
	}
	_, werr := of.f.WriteString(s)
	return Unset(), werr
}

func argStr(args []Value, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i].ToString()
}

func argNum(args []Value, i int) float64 {
	if i >= len(args) {
		return 0
	}
	return args[i].ToNumber()
}

func argTable(args []Value, i int) (*Table, error) {
	if i >= len(args) || args[i].Kind != KindTable {
		return nil, errWrongKind
	}
	return args[i].Tbl, nil
}

func clampIndex(n, max int) int {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
