// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package corehttp

// opSetGet reads or writes a policy option on the worker thread while
// the service runs. Only options whose descriptor marks them dynamic
// may be touched here; everything else must be configured statically
// before the worker starts.
type opSetGet struct {
	*opBase

	doSet    bool
	isString bool
	option   PolicyOption
	class    uint32

	longValue int64
	strValue  string

	replyLong int64
	replyStr  string
}

func newSetGetOp() *opSetGet {
	op := &opSetGet{opBase: newOpBase()}
	op.attach(op)
	return op
}

// setupSet configures the operation as a long-value set.
func (op *opSetGet) setupSet(opt PolicyOption, class uint32, value int64) Status {
	desc, ok := describeOption(opt)
	if !ok || !desc.isLong {
		return NewStatus(DomainCore, ECInvalidArg)
	}
	op.doSet = true
	op.option = opt
	op.class = class
	op.longValue = value
	return StatusOK
}

// setupSetString configures the operation as a string-value set.
func (op *opSetGet) setupSetString(opt PolicyOption, class uint32, value string) Status {
	desc, ok := describeOption(opt)
	if !ok || desc.isLong || desc.isCallback {
		return NewStatus(DomainCore, ECInvalidArg)
	}
	op.doSet = true
	op.isString = true
	op.option = opt
	op.class = class
	op.strValue = value
	return StatusOK
}

// setupGet configures the operation as a fetch.
func (op *opSetGet) setupGet(opt PolicyOption, class uint32) Status {
	desc, ok := describeOption(opt)
	if !ok || desc.isCallback {
		return NewStatus(DomainCore, ECInvalidArg)
	}
	op.option = opt
	op.class = class
	op.isString = !desc.isLong
	return StatusOK
}

func (op *opSetGet) stageFromRequest(sv *service) {
	desc, ok := describeOption(op.option)
	switch {
	case !ok:
		op.status = NewStatus(DomainCore, ECInvalidArg)
	case !desc.isDynamic:
		op.status = NewStatus(DomainCore, ECOptNotDynamic)
	case op.doSet && op.isString:
		op.replyStr, op.status = sv.setPolicyOptionString(op.option, op.class, op.strValue)
	case op.doSet:
		op.replyLong, op.status = sv.setPolicyOptionLong(op.option, op.class, op.longValue)
	case op.isString:
		op.replyStr, op.status = sv.getPolicyOptionString(op.option, op.class)
	default:
		op.replyLong, op.status = sv.getPolicyOptionLong(op.option, op.class)
	}
	op.addAsReply()
}

func (op *opSetGet) visitNotifier(c *Client) {
	if op.handler == nil {
		return
	}
	resp := &Response{status: op.status, optLong: op.replyLong, optString: op.replyStr}
	op.handler.OnCompleted(op.handle, resp)
}
