package transport

// sun_path is 108 bytes including the trailing NUL
const maxUnixSocketPathLen = 107
