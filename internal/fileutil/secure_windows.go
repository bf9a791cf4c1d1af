//go:build windows

package fileutil

import (
	"log/slog"
	"os"

	"golang.org/x/sys/windows"
)

// restrict applies perm's read-only bit and, for owner-only modes, a DACL
// that grants GENERIC_ALL to the current user and blocks inherited ACEs.
// DACL failures are logged and ignored since the file already exists.
func restrict(path string, perm os.FileMode) error {
	if err := os.Chmod(path, perm); err != nil {
		return err
	}
	if perm&0077 != 0 {
		return nil
	}

	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		slog.Warn("fileutil: cannot get current user SID, skipping DACL", "path", path, "err", err)
		return nil
	}

	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(user.User.Sid),
		},
	}}, nil)
	if err != nil {
		slog.Warn("fileutil: cannot build ACL, skipping DACL", "path", path, "err", err)
		return nil
	}

	secInfo := windows.SECURITY_INFORMATION(windows.DACL_SECURITY_INFORMATION | windows.PROTECTED_DACL_SECURITY_INFORMATION)
	if err := windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, secInfo, nil, nil, acl, nil); err != nil {
		slog.Warn("fileutil: cannot set DACL", "path", path, "err", err)
	}
	return nil
}
