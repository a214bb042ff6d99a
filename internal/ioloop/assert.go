package ioloop

func assert(cond bool, msg string) {
	if !cond {
		panic("ioloop: " + msg)
	}
}
