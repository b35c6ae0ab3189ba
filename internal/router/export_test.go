package router

var ForwardTimeout = forwardTimeout
