package banner

import "fmt"

const banner = `
███████╗ ██████╗ ██████╗ ██╗   ██╗███╗   ███╗██████╗ ██████╗
██╔════╝██╔═══██╗██╔══██╗██║   ██║████╗ ████║██╔══██╗██╔══██╗
█████╗  ██║   ██║██████╔╝██║   ██║██╔████╔██║██║  ██║██████╔╝
██╔══╝  ██║   ██║██╔══██╗██║   ██║██║╚██╔╝██║██║  ██║██╔══██╗
██║     ╚██████╔╝██║  ██║╚██████╔╝╚██╔╝ ╚═╝ ██║██████╔╝██████╔╝
╚═╝      ╚═════╝ ╚═╝  ╚═╝ ╚═════╝  ╚═╝     ╚═╝╚═════╝ ╚═════╝
`

// Print writes the startup banner and effective runtime settings.
func Print(addr, adminAddr, dataDir, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Forum:    %s (UDP control + TCP stream)\n", addr)
	fmt.Printf("Admin:    %s (/metrics /healthz /readyz)\n", adminAddr)
	fmt.Printf("Data:     %s\n", dataDir)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Protocol ===================================================")
	fmt.Println("Control: one datagram per command (LOGIN, PWD, NEW, CRT, MSG,")
	fmt.Println("         DLT, EDT, LST, RDT, UPD, DWN, RMV, XIT)")
	fmt.Println("Stream:  header line 'UPLOAD|DOWNLOAD <thread> <file>' + raw bytes")
}
