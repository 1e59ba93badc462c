// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"os"
)

// FileExists reports whether the named file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RequireFile returns an error unless filePath names an existing regular
// file. The description is used to build the error message.
func RequireFile(filePath, description string) error {
	info, err := os.Stat(filePath)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%s %q does not exist", description, filePath)
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("%s %q is a directory", description, filePath)
	}
	return nil
}
