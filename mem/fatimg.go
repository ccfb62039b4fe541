package mem

import (
	"os"

	"github.com/mitchellh/go-fs"
	"github.com/mitchellh/go-fs/fat"
)

// NewFATImage builds a FAT16 super-floppy image of the given number of
// 512-byte blocks, with a volume label and an optional set of files in
// its root directory. File names must use the 8.3 format. The FAT16
// formatter needs more than 8400 blocks; smaller sizes return an error.
func NewFATImage(blocks int, label string, files map[string][]byte) ([]byte, error) {
	img, err := os.CreateTemp("", "cowstick-fat")
	if err != nil {
		return nil, err
	}
	defer os.Remove(img.Name())
	defer img.Close()

	if err = img.Truncate(int64(blocks) * BlockSize); err != nil {
		return nil, err
	}

	dev, err := fs.NewFileDisk(img)
	if err != nil {
		return nil, err
	}

	conf := &fat.SuperFloppyConfig{
		FATType: fat.FAT16,
		Label:   label,
		OEMName: label,
	}

	if err = fat.FormatSuperFloppy(dev, conf); err != nil {
		return nil, err
	}

	f, err := fat.New(dev)
	if err != nil {
		return nil, err
	}

	root, err := f.RootDir()
	if err != nil {
		return nil, err
	}

	for name, data := range files {
		if err = addFile(root, name, data); err != nil {
			return nil, err
		}
	}

	return os.ReadFile(img.Name())
}

func addFile(root fs.Directory, path string, data []byte) (err error) {
	entry, err := root.AddFile(path)
	if err != nil {
		return
	}

	file, err := entry.File()
	if err != nil {
		return
	}

	_, err = file.Write(data)
	return
}
