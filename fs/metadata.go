package fs

import (
	"os"
	"time"
)

type Metadata struct {
	Name     RelPath   // filename
	Type     Type      // type enum
	Perms    Perms     // permission bits
	Uid      uint32    // user id of owner
	Gid      uint32    // group id of owner
	Size     int64     // length in bytes
	Linkname string    // if symlink: target name of link
	Mtime    time.Time // modified time
}

type Type string

const (
	Type_Invalid    Type = ""
	Type_File       Type = "file"
	Type_Dir        Type = "dir"
	Type_Symlink    Type = "symlink"
	Type_NamedPipe  Type = "fifo"
	Type_Socket     Type = "socket"
	Type_Device     Type = "device"
	Type_CharDevice Type = "chardev"
	Type_Hardlink   Type = "hardlink" // seen only in archive headers; never reported by stat.
)

type Perms uint16

const (
	Perms_Setuid Perms = 04000
	Perms_Setgid Perms = 02000
	Perms_Sticky Perms = 01000
)

// Default dir perms, used for dirs that have to be conjured into existence.
const DefaultDirPerms Perms = 0755

// Atime is never tracked, so whenever a syscall demands one, this is it.
var DefaultAtime = time.Unix(0, 0).UTC()

// Mode returns the os.FileMode equivalent of the type and perms.
func (m Metadata) Mode() os.FileMode {
	mode := os.FileMode(m.Perms & 0777)
	switch m.Type {
	case Type_Dir:
		mode |= os.ModeDir
	case Type_Symlink:
		mode |= os.ModeSymlink
	case Type_NamedPipe:
		mode |= os.ModeNamedPipe
	case Type_Socket:
		mode |= os.ModeSocket
	case Type_Device:
		mode |= os.ModeDevice
	case Type_CharDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	}
	if m.Perms&Perms_Setuid != 0 {
		mode |= os.ModeSetuid
	}
	if m.Perms&Perms_Setgid != 0 {
		mode |= os.ModeSetgid
	}
	if m.Perms&Perms_Sticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
