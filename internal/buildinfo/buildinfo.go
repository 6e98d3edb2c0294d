package buildinfo

// Version is stamped at build time via -ldflags "-X ...buildinfo.Version=v1.2.3".
var Version = "dev"
